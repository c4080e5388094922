package workspace

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Diff renders a unified-style line diff between two versions of name.
// It is intentionally a simple LCS-based line diff (not a byte-level
// Myers implementation) since artifacts are markdown/text/JSON documents
// meant to be read by a Brain, not applied as a patch.
func (f *FS) Diff(ctx context.Context, name string, v1, v2 int) (string, bool, error) {
	a, ok, err := f.Read(ctx, name, v1)
	if err != nil || !ok {
		return "", false, err
	}
	b, ok, err := f.Read(ctx, name, v2)
	if err != nil || !ok {
		return "", false, err
	}

	linesA := splitLines(a)
	linesB := splitLines(b)
	ops := lcsDiff(linesA, linesB)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s@v%d\n+++ %s@v%d\n", name, v1, name, v2)
	for _, op := range ops {
		switch op.kind {
		case diffEqual:
			buf.WriteString("  " + op.text + "\n")
		case diffDelete:
			buf.WriteString("- " + op.text + "\n")
		case diffInsert:
			buf.WriteString("+ " + op.text + "\n")
		}
	}
	return buf.String(), true, nil
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n")
}

type diffKind int

const (
	diffEqual diffKind = iota
	diffDelete
	diffInsert
)

type diffOp struct {
	kind diffKind
	text string
}

// lcsDiff computes a minimal line diff via the classic dynamic-programming
// longest-common-subsequence table, filled from the ends of both inputs,
// then walks it from the front to emit equal/delete/insert runs in forward
// order.
func lcsDiff(a, b []string) []diffOp {
	n, m := len(a), len(b)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{diffEqual, a[i]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			ops = append(ops, diffOp{diffDelete, a[i]})
			i++
		default:
			ops = append(ops, diffOp{diffInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{diffDelete, a[i]})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{diffInsert, b[j]})
	}
	return ops
}
