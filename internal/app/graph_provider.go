package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/consilience-ai/consilience-backend/internal/data/db"
	"github.com/consilience-ai/consilience-backend/internal/data/repos/graphstore"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// wireGraphReader builds the enrichment reader selected by GRAPH_PROVIDER.
// The returned closer is nil for the postgres reader, which shares the
// application's gorm pool.
func wireGraphReader(gdb *gorm.DB, log *logger.Logger, provider string) (graphstore.Reader, func(context.Context) error, error) {
	switch provider {
	case "", "postgres":
		return graphstore.NewPostgresReader(gdb, log), nil, nil
	case "neo4j":
		client, err := db.NewNeo4jClient(log)
		if err != nil {
			return nil, nil, fmt.Errorf("neo4j client: %w", err)
		}
		if client == nil {
			return nil, nil, fmt.Errorf("GRAPH_PROVIDER=neo4j requires NEO4J_URI")
		}
		reader, err := graphstore.NewNeo4jReader(client, log)
		if err != nil {
			_ = client.Close(context.Background())
			return nil, nil, fmt.Errorf("neo4j reader: %w", err)
		}
		return reader, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown GRAPH_PROVIDER %q", provider)
	}
}
