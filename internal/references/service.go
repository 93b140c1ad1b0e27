package references

import (
	"context"
	"log/slog"
	"strings"

	"github.com/clincite/clincite/internal/job"
)

// Service runs the reference retrieval stage. Retrieval is strictly
// best-effort: any failure degrades to whatever the other source produced,
// down to an empty list, and never fails the job.
type Service struct {
	pubmed *PubMedClient
	pool   *Pool
	cache  Cache
	max    int
	logger *slog.Logger
}

// NewService wires the two sources together. cache may be nil.
func NewService(pubmed *PubMedClient, pool *Pool, cache Cache, max int, logger *slog.Logger) *Service {
	if max <= 0 {
		max = DefaultMaxReferences
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Service{pubmed: pubmed, pool: pool, cache: cache, max: max, logger: logger}
}

// Retrieve builds the merged reference list for the given diagnosis labels.
func (s *Service) Retrieve(ctx context.Context, labels []string) []job.Reference {
	if len(labels) == 0 {
		return []job.Reference{}
	}

	live := s.search(ctx, BuildQuery(labels))

	var curated []job.Reference
	if s.pool != nil {
		curated = s.pool.Select(strings.Join(labels, " "))
	}

	merged := Merge(live, curated, s.max)
	s.logger.Info("references retrieved",
		"live", len(live), "curated", len(curated), "merged", len(merged))
	return merged
}

func (s *Service) search(ctx context.Context, terms []string) []job.Reference {
	if s.pubmed == nil || len(terms) == 0 {
		return nil
	}

	key := CacheKey(terms)
	if refs, ok := s.cache.Get(ctx, key); ok {
		return refs
	}

	refs, err := s.pubmed.Search(ctx, terms)
	if err != nil {
		s.logger.Warn("pubmed search failed; continuing without live results", "error", err)
		return nil
	}
	s.cache.Set(ctx, key, refs)
	return refs
}
