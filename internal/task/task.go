// Package task defines the unit of work executed by the indexing pool.
package task

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// Kind is the backend operation a task performs.
type Kind int

const (
	// KindIndex indexes a single document.
	KindIndex Kind = iota + 1
	// KindIndexRecursive indexes a folder and everything below it.
	KindIndexRecursive
	// KindUnindex removes a single document.
	KindUnindex
	// KindUnindexRecursive removes a folder and everything below it.
	KindUnindexRecursive
	// KindIndexResources indexes a pre-resolved resource batch.
	KindIndexResources
)

var kindNames = map[Kind]string{
	KindIndex:            "index",
	KindIndexRecursive:   "index_recursive",
	KindUnindex:          "unindex",
	KindUnindexRecursive: "unindex_recursive",
	KindIndexResources:   "index_resources",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Removes reports whether the kind deletes documents.
func (k Kind) Removes() bool {
	return k == KindUnindex || k == KindUnindexRecursive
}

// Task is one pending indexing action on a target.
// Tasks are values; a queued task may be replaced by a merged copy.
type Task struct {
	Kind      Kind
	Ref       indexer.DocRef
	Batch     indexer.ResourceBatch
	Fulltext  bool
	Recursive bool

	// Bulk marks the repository-wide reindex submitted by ReindexAll.
	Bulk bool
}

// Index returns a single-document index task.
func Index(ref indexer.DocRef, fulltext bool) Task {
	return Task{Kind: KindIndex, Ref: normalize(ref), Fulltext: fulltext}
}

// IndexRecursive returns a folder index task.
func IndexRecursive(ref indexer.DocRef, fulltext bool) Task {
	return Task{Kind: KindIndexRecursive, Ref: normalize(ref), Fulltext: fulltext, Recursive: true}
}

// Unindex returns a removal task, recursive when the target is a folder.
func Unindex(ref indexer.DocRef, recursive bool) Task {
	if recursive {
		return Task{Kind: KindUnindexRecursive, Ref: normalize(ref), Recursive: true}
	}
	return Task{Kind: KindUnindex, Ref: normalize(ref)}
}

// IndexResources returns a batch task.
func IndexResources(batch indexer.ResourceBatch) Task {
	return Task{Kind: KindIndexResources, Batch: batch}
}

// ReindexAll returns the bulk task submitted on the single-slot lane.
func ReindexAll(ref indexer.DocRef, recursive, fulltext bool) Task {
	t := Index(ref, fulltext)
	if recursive {
		t = IndexRecursive(ref, fulltext)
	}
	t.Bulk = true
	return t
}

func normalize(ref indexer.DocRef) indexer.DocRef {
	return indexer.NewDocRef(strings.TrimSpace(ref.Repository), ref.Path)
}

// Key identifies the target of a task. At most one task per key runs at a
// time, and at most one per key waits in the queue.
func (t Task) Key() string {
	if t.Kind == KindIndexResources {
		return "batch:" + t.Batch.ID
	}
	return "doc:" + t.Ref.ID()
}

// Validate checks that the task is well formed before admission.
func (t Task) Validate() error {
	if _, ok := kindNames[t.Kind]; !ok {
		return errors.InvalidTask(fmt.Sprintf("unknown task kind %d", int(t.Kind)))
	}
	if t.Kind == KindIndexResources {
		if err := t.Batch.Validate(); err != nil {
			return errors.InvalidTask(err.Error())
		}
		return nil
	}
	if err := t.Ref.Validate(); err != nil {
		return errors.InvalidTask(err.Error())
	}
	return nil
}

// Merge folds a newer task for the same key into t and returns the result.
//
// Index and IndexRecursive are one operation at two scopes, as are Unindex
// and UnindexRecursive. Within an operation the flags are OR'ed and the wider
// scope is kept, so no requested work is lost. A flip between indexing and
// removal supersedes the older task, since the latest intent for a target is
// the one that must hold after execution.
func (t Task) Merge(newer Task) Task {
	if t.Kind.operation() != newer.Kind.operation() {
		return newer
	}
	merged := newer
	merged.Fulltext = t.Fulltext || newer.Fulltext
	merged.Recursive = t.Recursive || newer.Recursive
	merged.Bulk = t.Bulk || newer.Bulk
	if merged.Recursive {
		merged.Kind = merged.Kind.recursive()
	}
	return merged
}

// operation maps a kind to its single-target form.
func (k Kind) operation() Kind {
	switch k {
	case KindIndexRecursive:
		return KindIndex
	case KindUnindexRecursive:
		return KindUnindex
	}
	return k
}

// recursive maps a kind to its folder form.
func (k Kind) recursive() Kind {
	switch k {
	case KindIndex:
		return KindIndexRecursive
	case KindUnindex:
		return KindUnindexRecursive
	}
	return k
}

func (t Task) String() string {
	return t.Kind.String() + " " + t.Key()
}
