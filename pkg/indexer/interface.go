package indexer

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Backend is the indexing backend consumed by the pool.
//
// Every method may block on I/O. Implementations should honour ctx
// cancellation; the pool cancels it on forced shutdown and on task deadlines.
type Backend interface {
	// IsEnabled reports whether the backend currently accepts work.
	// Admission refuses tasks while it returns false.
	IsEnabled() bool

	// Index (re)indexes a single document.
	Index(ctx context.Context, ref DocRef, fulltext bool) error

	// IndexResources indexes an already resolved batch of resources.
	IndexResources(ctx context.Context, batch ResourceBatch) error

	// Unindex removes a single document from the index.
	// Removing a document that is not indexed is not an error.
	Unindex(ctx context.Context, ref DocRef) error

	// IndexRecursive indexes ref and every document below it.
	IndexRecursive(ctx context.Context, ref DocRef, fulltext bool) error

	// UnindexRecursive removes ref and every document below it.
	UnindexRecursive(ctx context.Context, ref DocRef) error
}

// DocRef identifies a document (or a folder of documents) in a repository.
type DocRef struct {
	// Repository is the name of the repository holding the document.
	Repository string

	// Path is the slash-separated path inside the repository.
	// "/" denotes the repository root.
	Path string
}

// NewDocRef returns a DocRef with a normalized path.
func NewDocRef(repository, p string) DocRef {
	return DocRef{Repository: repository, Path: CleanPath(p)}
}

// CleanPath normalizes p to an absolute, slash-separated path.
func CleanPath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// Validate returns an error if the reference cannot name a document.
func (r DocRef) Validate() error {
	if strings.TrimSpace(r.Repository) == "" {
		return fmt.Errorf("repository is required")
	}
	if strings.ContainsAny(r.Repository, ":/") {
		return fmt.Errorf("repository %q must not contain ':' or '/'", r.Repository)
	}
	if r.Path == "" {
		return fmt.Errorf("path is required")
	}
	for _, seg := range strings.Split(r.Path, "/") {
		if seg == ".." {
			return fmt.Errorf("path %q escapes the repository", r.Path)
		}
	}
	return nil
}

// ID returns the stable document identifier used by the index stores.
func (r DocRef) ID() string {
	return r.Repository + ":" + CleanPath(r.Path)
}

// IsRoot reports whether the reference names the repository root.
func (r DocRef) IsRoot() bool {
	return CleanPath(r.Path) == "/"
}

func (r DocRef) String() string {
	return r.ID()
}

// Resource is a document whose content has already been resolved.
type Resource struct {
	Ref   DocRef
	Title string
	Body  string
}

// ResourceBatch is a set of resolved resources indexed as one unit.
// ID is assigned at resolution time; resubmitting a batch with the same
// ID is treated as the same work.
type ResourceBatch struct {
	ID        string
	Resources []Resource
}

// Validate returns an error if the batch cannot be indexed.
func (b ResourceBatch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("batch id is required")
	}
	if len(b.Resources) == 0 {
		return fmt.Errorf("batch %s has no resources", b.ID)
	}
	for i, r := range b.Resources {
		if err := r.Ref.Validate(); err != nil {
			return fmt.Errorf("batch %s resource %d: %w", b.ID, i, err)
		}
	}
	return nil
}
