package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/indexpool/internal/errors"
)

const bleveFetchSize = 500

var bleveFields = []string{"repository", "path", "title", "body", "fingerprint", "indexed_at"}

// BleveIndex implements DocumentIndex on a Bleve index. Repository and path
// are keyword fields so subtree deletes can use exact and prefix queries.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ DocumentIndex = (*BleveIndex)(nil)

// validateBleve checks that an existing index directory has readable metadata.
func validateBleve(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveIndex opens or creates the index at path.
// An empty path creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	m := documentMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.IOError("create index directory", err)
		}
		if validErr := validateBleve(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, errors.IOError(fmt.Sprintf("index corrupted at %s and cannot be removed", path), err)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, errors.IOError("open bleve index", err)
	}
	return &BleveIndex{index: idx, path: path}, nil
}

func documentMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()
	text := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("repository", keyword)
	doc.AddFieldMappingsAt("path", keyword)
	doc.AddFieldMappingsAt("fingerprint", keyword)
	doc.AddFieldMappingsAt("indexed_at", keyword)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("body", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Put inserts or replaces documents in one batch.
func (b *BleveIndex) Put(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		indexedAt := doc.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		fields := map[string]any{
			"repository":  doc.Repository,
			"path":        doc.Path,
			"title":       doc.Title,
			"body":        doc.Body,
			"fingerprint": formatFingerprint(doc.Fingerprint),
			"indexed_at":  indexedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return errors.Wrap(errors.ErrCodeIndexStore, fmt.Errorf("index %s: %w", doc.ID, err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	return nil
}

// Get returns one document.
func (b *BleveIndex) Get(ctx context.Context, id string) (*Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = bleveFields
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	if len(res.Hits) == 0 {
		return nil, errors.ErrDocumentNotFound
	}
	hit := res.Hits[0]
	doc := &Document{
		ID:          hit.ID,
		Repository:  stringField(hit.Fields, "repository"),
		Path:        stringField(hit.Fields, "path"),
		Title:       stringField(hit.Fields, "title"),
		Body:        stringField(hit.Fields, "body"),
		Fingerprint: parseFingerprint(stringField(hit.Fields, "fingerprint")),
	}
	doc.IndexedAt, _ = time.Parse(time.RFC3339Nano, stringField(hit.Fields, "indexed_at"))
	return doc, nil
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// Delete removes documents by ID.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	return nil
}

// DeleteTree removes path and its descendants.
func (b *BleveIndex) DeleteTree(ctx context.Context, repository, path string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errClosed
	}

	ids, err := b.matchIDs(ctx, treeQuery(repository, path))
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	return len(ids), nil
}

func treeQuery(repository, path string) query.Query {
	repo := bleve.NewTermQuery(repository)
	repo.SetField("repository")

	prefix := bleve.NewPrefixQuery(treePrefix(path))
	prefix.SetField("path")
	if path == "/" {
		return bleve.NewConjunctionQuery(repo, prefix)
	}
	exact := bleve.NewTermQuery(path)
	exact.SetField("path")
	return bleve.NewConjunctionQuery(repo, bleve.NewDisjunctionQuery(exact, prefix))
}

// matchIDs pages through every hit of q.
func (b *BleveIndex) matchIDs(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += bleveFetchSize {
		req := bleve.NewSearchRequestOptions(q, bleveFetchSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeIndexStore, err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < bleveFetchSize {
			return ids, nil
		}
	}
}

// IDs returns the document IDs of repository.
func (b *BleveIndex) IDs(ctx context.Context, repository string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}

	q := bleve.NewTermQuery(repository)
	q.SetField("repository")
	ids, err := b.matchIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats returns the document count.
func (b *BleveIndex) Stats(_ context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return Stats{}, errClosed
	}

	count, err := b.index.DocCount()
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeIndexStore, err)
	}
	return Stats{Backend: string(BackendBleve), Documents: int(count), Path: b.path}, nil
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
