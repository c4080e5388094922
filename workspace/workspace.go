// Package workspace implements a per-task isolated directory with versioned
// artifact history (spec.md §4.3). Writes are append-only per artifact
// name; reading without a version returns the latest. The default
// implementation is a filesystem root plus a SQLite-backed version index,
// grounded on nevindra-oasis's store/sqlite package (single shared
// connection, pure-Go driver, no CGO).
package workspace

import (
	"context"
	"time"
)

// Artifact describes a workspace entry's latest metadata, as returned by
// List.
type Artifact struct {
	Name         string
	LatestVer    int
	Size         int64
	CreatedAt    time.Time
	ContentType  string
	LatestCommit string
}

// Workspace is the contract every task-scoped artifact store implements.
type Workspace interface {
	// Write appends a new version of name and returns its version id
	// (1-based, monotonically increasing per name).
	Write(ctx context.Context, name string, content []byte, contentType, commitMessage string) (int, error)

	// Read returns the bytes of name at version, or the latest version if
	// version is 0. Returns ok=false if name (or that version) does not
	// exist.
	Read(ctx context.Context, name string, version int) (content []byte, ok bool, err error)

	// List enumerates every artifact name with its latest version metadata.
	List(ctx context.Context) ([]Artifact, error)

	// Versions returns every version id for name, oldest first.
	Versions(ctx context.Context, name string) ([]int, error)

	// Diff renders a human-readable unified diff between two versions of
	// name. Returns ok=false if either version is missing.
	Diff(ctx context.Context, name string, v1, v2 int) (text string, ok bool, err error)

	// Delete removes a single version of name, or every version when
	// version is 0.
	Delete(ctx context.Context, name string, version int) error

	// Exists reports whether name has at least one version.
	Exists(ctx context.Context, name string) (bool, error)

	// Summary renders a compact briefing fragment (name, size, first
	// lines) for each of the given artifact names, for assembling the
	// dependency context of a plan item's briefing.
	Summary(ctx context.Context, names ...string) (string, error)

	// Close releases resources held by the workspace (DB handle, etc.).
	Close() error
}
