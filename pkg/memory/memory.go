// Package memory implements the MemoryStore collaborator: semantic
// pattern/Q&A/session search and recording, always scoped by context
// partition (spec.md §6). The core treats MemoryStore as an external
// collaborator; this package supplies a concrete Qdrant-backed
// implementation, grounded on planner/services/qdrant_client.go, fronted
// by an in-process LRU fallback for when Qdrant is unreachable.
package memory

import "context"

// Result is one semantic search hit.
type Result struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Store is the MemoryStore contract the Generation Orchestration Engine
// consumes (spec.md §6). Every method is scoped to a context partition;
// no implementation may read or write outside the partition it is given.
type Store interface {
	Search(ctx context.Context, partition, query string, limit int) ([]Result, error)
	RecordSuccess(ctx context.Context, partition, summary string, patterns []string) error
	RecordFailure(ctx context.Context, partition, signature string, attempts int) error
	Close() error
}
