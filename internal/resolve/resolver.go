// Package resolve turns document references into indexable resources by
// reading them from filesystem repositories.
package resolve

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// DefaultMaxFileSize skips documents larger than 10 MiB.
const DefaultMaxFileSize = 10 << 20

// DefaultExtensions are the document types indexed when none are configured.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".rst", ".html", ".htm"}

// Resolver maps repository names to root directories.
type Resolver struct {
	roots       map[string]string
	extensions  map[string]bool
	maxFileSize int64
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExtensions limits indexing to the given file extensions.
func WithExtensions(exts []string) Option {
	return func(r *Resolver) {
		if len(exts) == 0 {
			return
		}
		r.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			r.extensions[e] = true
		}
	}
}

// WithMaxFileSize sets the size above which files are skipped.
func WithMaxFileSize(n int64) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxFileSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a resolver over repositories (name to root directory).
func New(repositories map[string]string, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		roots:       make(map[string]string, len(repositories)),
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	WithExtensions(DefaultExtensions)(r)
	for _, opt := range opts {
		opt(r)
	}

	for name, root := range repositories {
		if err := (indexer.DocRef{Repository: name, Path: "/"}).Validate(); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("repository %q: %v", name, err), nil)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("repository %q: invalid root", name), err)
		}
		r.roots[name] = filepath.Clean(abs)
	}
	return r, nil
}

// Repositories returns the configured repository names in sorted order.
func (r *Resolver) Repositories() []string {
	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Root returns the root directory of repository.
func (r *Resolver) Root(repository string) (string, error) {
	root, ok := r.roots[repository]
	if !ok {
		return "", errors.New(errors.ErrCodeUnknownRepo, fmt.Sprintf("unknown repository %q", repository), nil)
	}
	return root, nil
}

// Locate returns the filesystem path of ref.
func (r *Resolver) Locate(ref indexer.DocRef) (string, error) {
	root, err := r.Root(ref.Repository)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(indexer.CleanPath(ref.Path))), nil
}

// RefFor maps an absolute filesystem path back to a document reference.
func (r *Resolver) RefFor(absPath string) (indexer.DocRef, bool) {
	absPath = filepath.Clean(absPath)
	for name, root := range r.roots {
		rel, err := filepath.Rel(root, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return indexer.NewDocRef(name, filepath.ToSlash(rel)), true
	}
	return indexer.DocRef{}, false
}

// Indexable reports whether a file name is a document type the resolver reads.
func (r *Resolver) Indexable(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return r.extensions[strings.ToLower(filepath.Ext(base))]
}

// Resolve reads the single document ref points to.
func (r *Resolver) Resolve(ctx context.Context, ref indexer.DocRef) (indexer.Resource, error) {
	if err := ctx.Err(); err != nil {
		return indexer.Resource{}, err
	}
	p, err := r.Locate(ref)
	if err != nil {
		return indexer.Resource{}, err
	}
	info, err := os.Stat(p)
	if stderrors.Is(err, fs.ErrNotExist) {
		return indexer.Resource{}, errors.New(errors.ErrCodeDocumentNotFound,
			fmt.Sprintf("document %s not found", ref), err)
	}
	if err != nil {
		return indexer.Resource{}, errors.IOError("stat document", err)
	}
	if info.IsDir() {
		return indexer.Resource{}, errors.InvalidTask(fmt.Sprintf("%s is a folder; index it recursively", ref))
	}
	return r.read(p, indexer.NewDocRef(ref.Repository, ref.Path), info.Size())
}

func (r *Resolver) read(p string, ref indexer.DocRef, size int64) (indexer.Resource, error) {
	if size > r.maxFileSize {
		return indexer.Resource{}, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("document %s exceeds %d bytes", ref, r.maxFileSize), nil)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return indexer.Resource{}, errors.IOError("read document", err)
	}
	body := string(data)
	return indexer.Resource{Ref: ref, Title: Title(ref.Path, body), Body: body}, nil
}

// Walk resolves every indexable document at or below ref and calls fn for
// each. Hidden files and folders are skipped; unreadable documents are
// logged and skipped.
func (r *Resolver) Walk(ctx context.Context, ref indexer.DocRef, fn func(indexer.Resource) error) error {
	start, err := r.Locate(ref)
	if err != nil {
		return err
	}
	if _, err := os.Stat(start); stderrors.Is(err, fs.ErrNotExist) {
		return errors.New(errors.ErrCodeDocumentNotFound, fmt.Sprintf("folder %s not found", ref), err)
	}
	root, _ := r.Root(ref.Repository)

	return filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			r.logger.Warn("walk error", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p != start && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !r.Indexable(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		res, err := r.read(p, indexer.NewDocRef(ref.Repository, filepath.ToSlash(rel)), info.Size())
		if err != nil {
			r.logger.Warn("document skipped",
				slog.String("path", p),
				slog.String("error", err.Error()))
			return nil
		}
		return fn(res)
	})
}

// Batch resolves refs into a resource batch with a fresh id. Documents that
// cannot be resolved are left out and returned as errors.
func (r *Resolver) Batch(ctx context.Context, refs []indexer.DocRef) (indexer.ResourceBatch, []error) {
	batch := NewBatch(nil)
	var errs []error
	for _, ref := range refs {
		res, err := r.Resolve(ctx, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		batch.Resources = append(batch.Resources, res)
	}
	return batch, errs
}

// NewBatch wraps resources in a batch identified by a new UUID.
func NewBatch(resources []indexer.Resource) indexer.ResourceBatch {
	return indexer.ResourceBatch{ID: uuid.NewString(), Resources: resources}
}

// Title returns the first markdown heading of body, or the file name.
func Title(p, body string) string {
	for _, line := range strings.SplitN(body, "\n", 50) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return path.Base(p)
}
