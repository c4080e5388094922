package workspace

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO (DESIGN.md)

	"github.com/conductorrun/conductor/telemetry"
)

// FS is a filesystem-backed Workspace. Artifact content is stored
// content-addressed under root/blobs/<sha256>, and a SQLite database at
// root/versions.db tracks the ordered per-name version history. A single
// connection is used (SetMaxOpenConns(1)) so concurrent writers serialize
// through the database, avoiding SQLITE_BUSY, mirroring the pattern
// nevindra-oasis's store/sqlite package uses.
type FS struct {
	root   string
	db     *sql.DB
	logger telemetry.Logger

	// nameLocks holds one *sync.Mutex per artifact name, serializing the
	// read-max-then-insert version assignment in Write per name while
	// leaving writes to different names free to proceed concurrently
	// (spec.md §5 "Workspace operations are serialised per artifact name").
	// SetMaxOpenConns(1) alone only serializes individual round-trips, not
	// the critical section spanning both statements, grounded on
	// haasonsaas-nexus's sessions.SessionLocker per-key sync.Map pattern.
	nameLocks sync.Map // map[string]*sync.Mutex
}

// Option configures an FS workspace.
type Option func(*FS)

// WithLogger sets the logger used for workspace operations.
func WithLogger(l telemetry.Logger) Option {
	return func(f *FS) { f.logger = l }
}

// NewFS opens (creating if needed) a filesystem workspace rooted at root.
func NewFS(root string, opts ...Option) (*FS, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "versions.db"))
	if err != nil {
		return nil, fmt.Errorf("workspace: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	f := &FS{root: root, db: db, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(f)
	}
	if err := f.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return f, nil
}

func (f *FS) init(ctx context.Context) error {
	_, err := f.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS versions (
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			digest TEXT NOT NULL,
			content_type TEXT NOT NULL,
			commit_message TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (name, version)
		)`)
	return err
}

// Close closes the version index database.
func (f *FS) Close() error { return f.db.Close() }

// lockFor returns the per-artifact-name mutex for name, creating it on
// first use.
func (f *FS) lockFor(name string) *sync.Mutex {
	actual, _ := f.nameLocks.LoadOrStore(name, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Write appends a new version of name.
func (f *FS) Write(ctx context.Context, name string, content []byte, contentType, commitMessage string) (int, error) {
	clean, err := normalize(name)
	if err != nil {
		return 0, err
	}

	digest := sha256.Sum256(content)
	hexDigest := hex.EncodeToString(digest[:])
	blobPath := filepath.Join(f.root, "blobs", hexDigest)
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.WriteFile(blobPath, content, 0o644); err != nil {
			return 0, fmt.Errorf("workspace: write blob: %w", err)
		}
	}

	mu := f.lockFor(clean)
	mu.Lock()
	defer mu.Unlock()

	var maxVersion sql.NullInt64
	row := f.db.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE name = ?`, clean)
	if err := row.Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("workspace: read version history: %w", err)
	}
	next := int(maxVersion.Int64) + 1

	_, err = f.db.ExecContext(ctx, `
		INSERT INTO versions (name, version, digest, content_type, commit_message, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		clean, next, hexDigest, contentType, commitMessage, len(content), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("workspace: record version: %w", err)
	}

	f.logger.Info(ctx, "workspace: wrote artifact version", "name", clean, "version", next, "bytes", len(content))
	return next, nil
}

// Read returns the bytes of name at version, or the latest if version==0.
func (f *FS) Read(ctx context.Context, name string, version int) ([]byte, bool, error) {
	clean, err := normalize(name)
	if err != nil {
		return nil, false, err
	}

	var digest string
	var row *sql.Row
	if version == 0 {
		row = f.db.QueryRowContext(ctx, `
			SELECT digest FROM versions WHERE name = ? ORDER BY version DESC LIMIT 1`, clean)
	} else {
		row = f.db.QueryRowContext(ctx, `
			SELECT digest FROM versions WHERE name = ? AND version = ?`, clean, version)
	}
	if err := row.Scan(&digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("workspace: lookup version: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(f.root, "blobs", digest))
	if err != nil {
		return nil, false, fmt.Errorf("workspace: read blob: %w", err)
	}
	return content, true, nil
}

// Exists reports whether name has at least one version.
func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	clean, err := normalize(name)
	if err != nil {
		return false, err
	}
	var count int
	row := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE name = ?`, clean)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// List enumerates every artifact with its latest version metadata.
func (f *FS) List(ctx context.Context) ([]Artifact, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT name, MAX(version) AS latest, content_type, size, created_at, commit_message
		FROM versions
		GROUP BY name
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("workspace: list: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt int64
		var contentType, commitMessage string
		if err := rows.Scan(&a.Name, &a.LatestVer, &contentType, &a.Size, &createdAt, &commitMessage); err != nil {
			return nil, err
		}
		a.ContentType = contentType
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		a.LatestCommit = commitMessage
		out = append(out, a)
	}
	return out, rows.Err()
}

// Versions returns every version id for name, oldest first.
func (f *FS) Versions(ctx context.Context, name string) ([]int, error) {
	clean, err := normalize(name)
	if err != nil {
		return nil, err
	}
	rows, err := f.db.QueryContext(ctx, `SELECT version FROM versions WHERE name = ? ORDER BY version ASC`, clean)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out, rows.Err()
}

// Delete removes a single version of name, or every version when version
// is 0. Blob content is left in place (other versions, or other artifacts
// with identical content, may still reference it); only the version index
// entries are removed.
func (f *FS) Delete(ctx context.Context, name string, version int) error {
	clean, err := normalize(name)
	if err != nil {
		return err
	}
	if version == 0 {
		_, err = f.db.ExecContext(ctx, `DELETE FROM versions WHERE name = ?`, clean)
	} else {
		_, err = f.db.ExecContext(ctx, `DELETE FROM versions WHERE name = ? AND version = ?`, clean, version)
	}
	return err
}

var _ Workspace = (*FS)(nil)
