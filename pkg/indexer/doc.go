// Package indexer defines the boundary between the indexing pool and the
// search backend that actually stores documents.
//
// The pool never talks to storage directly. It hands each task to a [Backend],
// which resolves the target into indexable content and writes it:
//
//	┌──────────────────────┐
//	│  admission.Controller│  (producers submit here)
//	└──────────┬───────────┘
//	           │ tasks
//	┌──────────▼───────────┐
//	│      pool.Pool       │  (bounded workers, one task per target)
//	└──────────┬───────────┘
//	           │
//	┌──────────▼───────────┐
//	│   indexer.Backend    │  ← This package
//	└──────────┬───────────┘
//	      ┌────┴────┐
//	  ┌───▼───┐ ┌───▼───┐
//	  │SQLite │ │ Bleve │
//	  └───────┘ └───────┘
//
// # Thread Safety
//
// Backend implementations must be safe for concurrent use. The pool guarantees
// that calls for the same target never overlap, but calls for different
// targets run in parallel.
package indexer
