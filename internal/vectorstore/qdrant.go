// Package vectorstore persists chunk embeddings in Qdrant and serves
// similarity search over them. The collection dimension is fixed at
// initialization; inserting a mismatched vector fails the whole batch.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const upsertBatchSize = 100

// Store wraps the Qdrant client with connection management, health checks
// and the fixed-dimension insert contract.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewStore creates a Qdrant-backed store and validates connectivity with
// exponential backoff, failing fast if Qdrant stays unreachable.
func NewStore(host string, port int, collection string, dimension int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &Store{
		client:     client,
		collection: collection,
		dimension:  dimension,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return s, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with the configured dimension
// and cosine distance if it does not exist, plus a payload index on the
// source field. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	// Filtering by source without this index degrades badly at scale.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "source",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("creating source index: %w", err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Dimension reports the fixed vector dimension of this store instance.
func (s *Store) Dimension() int { return s.dimension }

// Store batch-inserts records. Every record's dimension is validated
// before anything is written, so a mismatch fails the batch as a whole.
// Point IDs are derived from (source, chunk index), making re-processing
// of a source an upsert rather than a duplication.
func (s *Store) Store(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	for i, rec := range records {
		if len(rec.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %d (source %q, chunk %d) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, rec.Source, rec.ChunkIndex, len(rec.Embedding), s.dimension)
		}
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		batch := records[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, rec := range batch {
			createdAt := rec.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(rec.Source, rec.ChunkIndex)),
				Vectors: qdrant.NewVectors(rec.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"content":     rec.Content,
					"metadata":    toAnyMap(rec.Metadata),
					"source":      rec.Source,
					"chunk_index": rec.ChunkIndex,
					"created_at":  createdAt.Format(time.RFC3339),
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("%w: upserting batch %d-%d: %v", ErrStorage, i, end, err)
		}
	}
	return nil
}

// upsertWithRetry performs the upsert with exponential backoff.
func (s *Store) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// Search returns records with similarity strictly greater than threshold,
// ranked by descending similarity and truncated to limit.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]SearchResult, error) {
	return s.SearchWithFilter(ctx, vector, nil, limit, threshold)
}

// SearchWithFilter is Search additionally restricted to records whose
// metadata satisfies an equality AND of every (key, value) pair in
// filters. An empty filter set behaves as a plain search.
func (s *Store) SearchWithFilter(ctx context.Context, vector []float32, filters map[string]string, limit int, threshold float64) ([]SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		must := make([]*qdrant.Condition, 0, len(filters))
		for _, key := range sortedKeys(filters) {
			must = append(must, qdrant.NewMatch("metadata."+key, filters[key]))
		}
		filter = &qdrant.Filter{Must: must}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %v", ErrStorage, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, result := range results {
		sim := float64(result.Score)
		// Qdrant's threshold is inclusive; the contract is strict.
		if sim <= threshold {
			continue
		}
		payload := result.Payload
		out = append(out, SearchResult{
			Content:    payload["content"].GetStringValue(),
			Metadata:   fromValueMap(payload["metadata"]),
			Source:     payload["source"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			Similarity: sim,
		})
	}

	return rankResults(out, limit), nil
}

// rankResults orders by descending similarity, breaking ties by
// (source, chunk index) so equal scores rank deterministically, and
// truncates to limit.
func rankResults(results []SearchResult, limit int) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// DeleteBySource removes every record for the given source. Idempotent:
// deleting a source with no records is not an error.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source", source),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting source %q: %v", ErrStorage, source, err)
	}
	return nil
}

// GetStats returns the total record count and the number of distinct
// sources. AvgSimilarity is the diagnostic self-similarity constant; see
// Stats.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("%w: getting collection info: %v", ErrStorage, err)
	}

	sources, err := s.distinctSources(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEmbeddings: info.GetPointsCount(),
		UniqueSources:   len(sources),
	}
	if stats.TotalEmbeddings > 0 {
		stats.AvgSimilarity = 1.0
	}
	return stats, nil
}

// distinctSources scrolls the collection reading only the source field.
func (s *Store) distinctSources(ctx context.Context) (map[string]struct{}, error) {
	sources := make(map[string]struct{})
	var offset *qdrant.PointId
	batchSize := uint32(1000)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("source"),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scrolling sources: %v", ErrStorage, err)
		}

		for _, result := range results {
			if src := result.Payload["source"].GetStringValue(); src != "" {
				sources[src] = struct{}{}
			}
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}
	return sources, nil
}

// pointID derives a stable UUID from the (source, chunk index) key.
func pointID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "ragpipe://%s#%d", source, index)).String()
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromValueMap(v *qdrant.Value) map[string]string {
	st := v.GetStructValue()
	if st == nil {
		return nil
	}
	out := make(map[string]string, len(st.Fields))
	for k, val := range st.Fields {
		out[k] = val.GetStringValue()
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
