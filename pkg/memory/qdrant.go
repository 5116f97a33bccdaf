package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const collectionName = "engine_memory"

// QdrantStore persists patterns, Q&A, and session summaries as vector
// points in a single collection, filtering every query by the partition's
// context so a job never sees another context's memory (spec.md §6).
// Grounded on planner/services/qdrant_client.go's client-wrapper shape.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore dials addr (host:port, gRPC) and ensures the engine's
// collection exists.
func NewQdrantStore(ctx context.Context, addr string) (*QdrantStore, error) {
	host, port := splitHostPort(addr)

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("memory: dial qdrant: %w", err)
	}

	store := &QdrantStore{client: client}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func splitHostPort(addr string) (string, int) {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	host, port := addr, 6334
	if idx := strings.Index(addr, ":"); idx >= 0 {
		host = addr[:idx]
		if p, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil || p == 0 {
			port = 6334
		}
	}
	return host, port
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("memory: check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(embedDims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("memory: create collection: %w", err)
	}
	return nil
}

// IsAvailable reports whether Qdrant currently answers a lightweight
// health check, mirroring the teacher's IsAvailable probe.
func (s *QdrantStore) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.client.ListCollections(ctx)
	return err == nil
}

func (s *QdrantStore) Search(ctx context.Context, partition, query string, limit int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	limitU := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(embed(query)...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword("context", partition)},
		},
		Limit:       &limitU,
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload := make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v.GetStringValue()
		}
		results = append(results, Result{
			ID:      pointIDString(p.Id),
			Score:   p.Score,
			Payload: payload,
		})
	}
	return results, nil
}

func (s *QdrantStore) RecordSuccess(ctx context.Context, partition, summary string, patterns []string) error {
	return s.upsert(ctx, partition, "success", summary, map[string]string{
		"summary":  summary,
		"patterns": strings.Join(patterns, ","),
	})
}

func (s *QdrantStore) RecordFailure(ctx context.Context, partition, signature string, attempts int) error {
	return s.upsert(ctx, partition, "failure", signature, map[string]string{
		"signature": signature,
		"attempts":  fmt.Sprintf("%d", attempts),
	})
}

func (s *QdrantStore) upsert(ctx context.Context, partition, kind, text string, fields map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload := map[string]interface{}{
		"context": partition,
		"kind":    kind,
	}
	for k, v := range fields {
		payload[k] = v
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(embed(text)...),
			Payload: qdrant.NewValueMap(payload),
		}},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("memory: upsert %s record: %w", kind, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return id.String()
	}
}
