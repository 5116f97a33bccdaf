package memory

import (
	"container/list"
	"context"
	"strings"
	"sync"
)

// lruEntry is one cached record, scoped to a single partition.
type lruEntry struct {
	partition string
	kind      string
	text      string
	payload   map[string]string
}

// LRUStore is an in-process fallback MemoryStore used when Qdrant is
// unavailable: a bounded recency-ordered cache (one capacity shared by all
// partitions) whose entries are searched only within their own partition,
// by whole-word token overlap instead of vector similarity. It never
// persists across process restarts.
type LRUStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	elems    map[*list.Element]*lruEntry
}

// NewLRUStore returns a fallback store capped at capacity entries total
// (oldest evicted first, across all partitions).
func NewLRUStore(capacity int) *LRUStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRUStore{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[*list.Element]*lruEntry),
	}
}

func (s *LRUStore) insert(partition, kind, text string, payload map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.order.PushFront(&lruEntry{partition: partition, kind: kind, text: text, payload: payload})
	s.elems[elem] = elem.Value.(*lruEntry)

	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.elems, oldest)
	}
}

func (s *LRUStore) Search(ctx context.Context, partition, query string, limit int) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := tokenize(query)
	var results []Result
	for e := s.order.Front(); e != nil && len(results) < limit; e = e.Next() {
		entry := e.Value.(*lruEntry)
		if entry.partition != partition {
			continue
		}
		score := overlapScore(needle, tokenize(entry.text))
		if score == 0 {
			continue
		}
		results = append(results, Result{
			ID:      entry.kind,
			Score:   score,
			Payload: entry.payload,
		})
	}
	return results, nil
}

func (s *LRUStore) RecordSuccess(ctx context.Context, partition, summary string, patterns []string) error {
	s.insert(partition, "success", summary, map[string]string{
		"summary":  summary,
		"patterns": strings.Join(patterns, ","),
	})
	return nil
}

func (s *LRUStore) RecordFailure(ctx context.Context, partition, signature string, attempts int) error {
	s.insert(partition, "failure", signature, map[string]string{
		"signature": signature,
	})
	return nil
}

func (s *LRUStore) Close() error { return nil }

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = true
	}
	return out
}

func overlapScore(a, b map[string]bool) float32 {
	var matches int
	for w := range a {
		if b[w] {
			matches++
		}
	}
	if matches == 0 || len(a) == 0 {
		return 0
	}
	return float32(matches) / float32(len(a))
}
