package store

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/Aman-CERP/indexpool/internal/errors"
)

// Backend selects a DocumentIndex implementation.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 in WAL mode (default).
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses a Bleve index directory.
	BackendBleve Backend = "bleve"
)

var errClosed = errors.New(errors.ErrCodeIndexStore, "index is closed", nil)

// Open creates the DocumentIndex for backend under dataDir.
// An empty dataDir opens an in-memory index.
func Open(dataDir string, backend Backend) (DocumentIndex, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteIndex(IndexPath(dataDir, BackendSQLite))
	case BackendBleve:
		return NewBleveIndex(IndexPath(dataDir, BackendBleve))
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown index backend %q (valid options: sqlite, bleve)", backend), nil)
	}
}

// IndexPath returns where backend keeps its data under dataDir.
func IndexPath(dataDir string, backend Backend) string {
	if dataDir == "" {
		return ""
	}
	if backend == BackendBleve {
		return filepath.Join(dataDir, "documents.bleve")
	}
	return filepath.Join(dataDir, "documents.db")
}

func formatFingerprint(fp uint64) string {
	if fp == 0 {
		return ""
	}
	return strconv.FormatUint(fp, 16)
}

func parseFingerprint(s string) uint64 {
	fp, _ := strconv.ParseUint(s, 16, 64)
	return fp
}
