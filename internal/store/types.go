// Package store persists indexed documents.
//
// Two DocumentIndex implementations are available: SQLite FTS5 (default,
// pure Go via modernc.org/sqlite) and Bleve. Both store whole documents keyed
// by "<repository>:<path>" and support removing a folder subtree, which is
// what recursive unindexing needs.
package store

import (
	"context"
	"strings"
	"time"
)

// Document is one indexed document.
type Document struct {
	ID         string
	Repository string
	Path       string
	Title      string
	Body       string

	// Fingerprint is a content hash used to skip unchanged documents.
	Fingerprint uint64
	IndexedAt   time.Time
}

// Stats summarizes an index.
type Stats struct {
	Backend   string
	Documents int
	Path      string
}

// DocumentIndex is the storage used by the indexing backend.
// Implementations must be safe for concurrent use.
type DocumentIndex interface {
	// Put inserts or replaces documents.
	Put(ctx context.Context, docs []*Document) error

	// Get returns a document by ID or ErrDocumentNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// DeleteTree removes the document at path and everything below it in
	// repository, returning how many were removed. "/" clears the repository.
	DeleteTree(ctx context.Context, repository, path string) (int, error)

	// IDs returns the IDs stored for repository in sorted order.
	IDs(ctx context.Context, repository string) ([]string, error)

	// Stats returns the document count.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// treePrefix returns the path prefix matching strict descendants of path.
func treePrefix(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimSuffix(path, "/") + "/"
}
