package memory

import (
	"context"

	"github.com/forgecore/engine/internal/logging"
)

// availabilityProbe lets FallbackStore ask its primary whether it's worth
// trying, without both implementations needing to share a concrete type.
type availabilityProbe interface {
	IsAvailable(ctx context.Context) bool
}

// FallbackStore tries primary first and, when it reports itself
// unavailable (or a call fails), falls through to secondary, logging the
// degradation. Built for primary=*QdrantStore, secondary=*LRUStore.
type FallbackStore struct {
	primary   Store
	secondary Store
	probe     availabilityProbe
	log       logging.ExtendedLogger
}

// NewFallbackStore wires primary (optionally satisfying availabilityProbe)
// in front of secondary.
func NewFallbackStore(primary Store, secondary Store, log logging.ExtendedLogger) *FallbackStore {
	probe, _ := primary.(availabilityProbe)
	return &FallbackStore{primary: primary, secondary: secondary, probe: probe, log: log}
}

func (f *FallbackStore) active(ctx context.Context) Store {
	if f.probe != nil && !f.probe.IsAvailable(ctx) {
		if f.log != nil {
			f.log.Warn("memory store primary unavailable, using fallback")
		}
		return f.secondary
	}
	return f.primary
}

func (f *FallbackStore) Search(ctx context.Context, partition, query string, limit int) ([]Result, error) {
	store := f.active(ctx)
	results, err := store.Search(ctx, partition, query, limit)
	if err != nil && store != f.secondary {
		if f.log != nil {
			f.log.Warn("memory store search failed, retrying against fallback", "error", err)
		}
		return f.secondary.Search(ctx, partition, query, limit)
	}
	return results, err
}

func (f *FallbackStore) RecordSuccess(ctx context.Context, partition, summary string, patterns []string) error {
	store := f.active(ctx)
	if err := store.RecordSuccess(ctx, partition, summary, patterns); err != nil && store != f.secondary {
		return f.secondary.RecordSuccess(ctx, partition, summary, patterns)
	} else {
		return err
	}
}

func (f *FallbackStore) RecordFailure(ctx context.Context, partition, signature string, attempts int) error {
	store := f.active(ctx)
	if err := store.RecordFailure(ctx, partition, signature, attempts); err != nil && store != f.secondary {
		return f.secondary.RecordFailure(ctx, partition, signature, attempts)
	} else {
		return err
	}
}

func (f *FallbackStore) Close() error {
	err1 := f.primary.Close()
	err2 := f.secondary.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
