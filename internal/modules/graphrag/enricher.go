package graphrag

import (
	"context"

	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/pkg/dbctx"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

type Config struct {
	MaxEntities    int
	MaxCommunities int
}

// Enricher decorates an answer with the entities and community summaries the
// cited chunks touch in the latest graph snapshot. Everything here is
// advisory: a failing graph read degrades to empty lists and a warn log,
// never an error.
type Enricher struct {
	log    *logger.Logger
	reader graphstore.Reader
	cfg    Config
}

func NewEnricher(reader graphstore.Reader, log *logger.Logger, cfg Config) *Enricher {
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 10
	}
	if cfg.MaxCommunities <= 0 {
		cfg.MaxCommunities = 5
	}
	return &Enricher{
		log:    log.With("service", "GraphEnricher"),
		reader: reader,
		cfg:    cfg,
	}
}

func (e *Enricher) Enrich(ctx context.Context, chunkIDs []int64) ([]graphstore.EntityHit, []graphstore.CommunityHit) {
	empty := func(outcome string) ([]graphstore.EntityHit, []graphstore.CommunityHit) {
		if m := observability.Current(); m != nil {
			m.ObserveGraphEnrichment(outcome)
		}
		return []graphstore.EntityHit{}, []graphstore.CommunityHit{}
	}

	if len(chunkIDs) == 0 {
		return empty("empty")
	}

	dbc := dbctx.Context{Ctx: ctx}
	entities, err := e.reader.EntitiesForChunks(dbc, chunkIDs, e.cfg.MaxEntities)
	if err != nil {
		e.log.Warn("Graph entity lookup failed", "chunks", len(chunkIDs), "error", err.Error())
		return empty("error")
	}
	if len(entities) == 0 {
		return empty("empty")
	}

	names := make([]string, 0, len(entities))
	for _, ent := range entities {
		names = append(names, ent.Entity)
	}

	communities, err := e.reader.CommunitiesForEntities(dbc, names, e.cfg.MaxCommunities)
	if err != nil {
		// Keep the entities we already have; only the community list degrades.
		e.log.Warn("Graph community lookup failed", "entities", len(names), "error", err.Error())
		if m := observability.Current(); m != nil {
			m.ObserveGraphEnrichment("partial")
		}
		return entities, []graphstore.CommunityHit{}
	}

	if m := observability.Current(); m != nil {
		m.ObserveGraphEnrichment("ok")
	}
	return entities, communities
}
