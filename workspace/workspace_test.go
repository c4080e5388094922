package workspace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorrun/conductor/workspace"
)

func newFS(t *testing.T) *workspace.FS {
	t.Helper()
	fs, err := workspace.NewFS(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	v, err := fs.Write(ctx, "report.md", []byte("hello"), "text/markdown", "initial draft")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	content, ok, err := fs.Read(ctx, "report.md", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(content))
}

func TestWritingSameBytesTwiceProducesDistinctVersions(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	v1, err := fs.Write(ctx, "report.md", []byte("same"), "text/plain", "first")
	require.NoError(t, err)
	v2, err := fs.Write(ctx, "report.md", []byte("same"), "text/plain", "second")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	c1, ok, err := fs.Read(ctx, "report.md", v1)
	require.NoError(t, err)
	require.True(t, ok)
	c2, ok, err := fs.Read(ctx, "report.md", v2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c1, c2)

	versions, err := fs.Versions(ctx, "report.md")
	require.NoError(t, err)
	assert.Equal(t, []int{v1, v2}, versions)
}

func TestReadMissingArtifactReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	_, ok, err := fs.Read(ctx, "nope.md", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPathEscapeRejected(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	_, err := fs.Write(ctx, "../../etc/passwd", []byte("x"), "text/plain", "evil")
	require.Error(t, err)

	_, err = fs.Write(ctx, "/absolute/path.md", []byte("x"), "text/plain", "evil")
	require.Error(t, err)
}

func TestListReturnsLatestMetadataPerName(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	_, err := fs.Write(ctx, "a.md", []byte("v1"), "text/markdown", "a v1")
	require.NoError(t, err)
	_, err = fs.Write(ctx, "a.md", []byte("v2 longer"), "text/markdown", "a v2")
	require.NoError(t, err)
	_, err = fs.Write(ctx, "b.md", []byte("b"), "text/markdown", "b v1")
	require.NoError(t, err)

	artifacts, err := fs.List(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	byName := make(map[string]workspace.Artifact)
	for _, a := range artifacts {
		byName[a.Name] = a
	}
	assert.Equal(t, 2, byName["a.md"].LatestVer)
	assert.Equal(t, int64(len("v2 longer")), byName["a.md"].Size)
	assert.Equal(t, 1, byName["b.md"].LatestVer)
}

func TestDiffRendersInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	v1, err := fs.Write(ctx, "notes.md", []byte("line one\nline two\n"), "text/markdown", "v1")
	require.NoError(t, err)
	v2, err := fs.Write(ctx, "notes.md", []byte("line one\nline three\n"), "text/markdown", "v2")
	require.NoError(t, err)

	text, ok, err := fs.Diff(ctx, "notes.md", v1, v2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, "- line two")
	assert.Contains(t, text, "+ line three")
	assert.Contains(t, text, "  line one")
}

func TestDiffMissingVersionReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	_, err := fs.Write(ctx, "notes.md", []byte("v1"), "text/markdown", "v1")
	require.NoError(t, err)

	_, ok, err := fs.Diff(ctx, "notes.md", 1, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	ok, err := fs.Exists(ctx, "ghost.md")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Write(ctx, "ghost.md", []byte("boo"), "text/plain", "init")
	require.NoError(t, err)

	ok, err = fs.Exists(ctx, "ghost.md")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fs.Delete(ctx, "ghost.md", 0))
	ok, err = fs.Exists(ctx, "ghost.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeclaredExtractsFilenames(t *testing.T) {
	names := workspace.Declared("produce report.md using research_hello.md and data.json")
	assert.ElementsMatch(t, []string{"report.md", "research_hello.md", "data.json"}, names)
}

func TestDeclaredDedupesAndIgnoresPlainWords(t *testing.T) {
	names := workspace.Declared("review report.md, then finalize report.md")
	assert.Equal(t, []string{"report.md"}, names)
}

func TestSummaryRendersPreviewAndMissing(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t)

	_, err := fs.Write(ctx, "a.md", []byte("l1\nl2\nl3\nl4\nl5\nl6\nl7\n"), "text/markdown", "init")
	require.NoError(t, err)

	text, err := fs.Summary(ctx, "a.md", "missing.md")
	require.NoError(t, err)
	assert.Contains(t, text, "a.md (21 bytes)")
	assert.Contains(t, text, "2 more lines")
	assert.Contains(t, text, "missing.md")
	assert.Contains(t, text, "(not found)")
}
