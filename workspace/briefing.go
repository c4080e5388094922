package workspace

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// filenamePattern matches bare filenames with a dotted extension inside a
// PlanItem action string, e.g. "produce report.md using research_hello.md".
var filenamePattern = regexp.MustCompile(`\b[\w\-./]+\.[A-Za-z0-9]{1,8}\b`)

// Declared extracts the artifact filenames mentioned in a PlanItem's action
// text. The Orchestrator uses this for its artifact-presence probe (step 7
// of §4.6): every name Declared returns for a completed item's action
// should Exist in the Workspace, or the item's completion is suspect.
func Declared(action string) []string {
	matches := filenamePattern.FindAllString(action, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

const briefingPreviewLines = 5

// Summary renders a compact briefing fragment for each name: its size and
// the first few lines of its latest version (the content type is not
// shown). The Orchestrator's briefing assembly uses this to append the
// dependency-satisfied artifact context to an item's user turn without
// dumping entire artifact bodies, mirroring the teacher's history-window
// rendering.
func (f *FS) Summary(ctx context.Context, names ...string) (string, error) {
	var b strings.Builder
	for _, name := range names {
		content, ok, err := f.Read(ctx, name, 0)
		if err != nil {
			return "", err
		}
		if !ok {
			fmt.Fprintf(&b, "### %s\n(not found)\n\n", name)
			continue
		}

		fmt.Fprintf(&b, "### %s (%d bytes)\n", name, len(content))
		lines := splitLines(content)
		preview := lines
		truncated := false
		if len(lines) > briefingPreviewLines {
			preview = lines[:briefingPreviewLines]
			truncated = true
		}
		for _, l := range preview {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		if truncated {
			fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-briefingPreviewLines)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
