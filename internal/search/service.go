package search

import (
	"context"

	"go.uber.org/zap"
)

type primaryEngine interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primaryEngine
	fallback Searcher
	loader   func(context.Context) ([]PostRecord, error)
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(m *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := newService(nil, nil, logger)
	if m != nil {
		s.primary = m
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func newService(primary primaryEngine, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPost is fire-and-forget.
func (s *Service) IndexPost(post PostRecord) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.IndexPost(post); err != nil {
			s.logger.Warn("index post", zap.String("post_id", post.ID), zap.Error(err))
		}
	}()
}

// DeletePost is fire-and-forget.
func (s *Service) DeletePost(id string) {
	if !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeletePost(id); err != nil {
			s.logger.Warn("delete post", zap.String("post_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll reads every post from PG and pushes it to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	posts, err := s.loader(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexPosts(posts); err != nil {
		s.logger.Error("reindex posts", zap.Error(err))
		return
	}
	s.logger.Info("reindexed posts", zap.Int("count", len(posts)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
