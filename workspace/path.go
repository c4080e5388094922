package workspace

import (
	"path"
	"strings"

	"github.com/conductorrun/conductor/errs"
)

// normalize cleans name into a workspace-relative, slash-separated path and
// rejects any attempt to escape the workspace root (spec.md §4.3
// "PathEscape"). An absolute path, a leading "../", or any ".." component
// that climbs above the root is rejected.
func normalize(name string) (string, error) {
	if name == "" {
		return "", errs.New(errs.KindPathEscape, "artifact name is empty")
	}
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) {
		return "", errs.Newf(errs.KindPathEscape, "artifact name %q is absolute", name)
	}
	if clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", errs.Newf(errs.KindPathEscape, "artifact name %q escapes the workspace root", name)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", errs.Newf(errs.KindPathEscape, "artifact name %q escapes the workspace root", name)
		}
	}
	return clean, nil
}
