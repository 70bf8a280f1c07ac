package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"corpusrag/internal/config"
)

// OpenPool creates a Postgres connection pool using the standard defaults.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return newPgPool(ctx, dsn)
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewStoreFromConfig resolves the single Store a deployment runs
// against, per cfg.Databases. "memory" (the default, and what every test in
// this module uses) needs no DSN. "postgres"/"auto" bootstraps the graphrag
// schema via NewPostgresStore against cfg.Databases.DefaultDSN (or a
// per-concern DSN override). When cfg.Databases.Vector.Backend is "qdrant",
// the resolved base store's vector search is replaced with a Qdrant-backed
// one via NewQdrantStore, leaving BM25/PPR/communities on the base backend.
func NewStoreFromConfig(ctx context.Context, cfg config.DBConfig) (Store, error) {
	var base Store
	switch cfg.Search.Backend {
	case "", "memory":
		base = NewMemoryStore()
	case "auto", "postgres", "pg":
		dsn := firstNonEmpty(cfg.Search.DSN, cfg.DefaultDSN)
		if dsn == "" {
			if cfg.Search.Backend == "auto" {
				base = NewMemoryStore()
				break
			}
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		pool, err := OpenPool(ctx, dsn)
		if err != nil {
			if cfg.Search.Backend == "auto" {
				base = NewMemoryStore()
				break
			}
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		base = NewPostgresStore(pool, cfg.Vector.Dimensions)
	case "none", "disabled":
		base = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", cfg.Search.Backend)
	}

	switch cfg.Vector.Backend {
	case "qdrant":
		dsn := firstNonEmpty(cfg.Vector.DSN, cfg.DefaultDSN)
		if dsn == "" {
			return nil, fmt.Errorf("qdrant vector backend requires a DSN")
		}
		prefix := cfg.Vector.Index
		if prefix == "" {
			prefix = "corpusrag"
		}
		return NewQdrantStore(base, dsn, prefix, cfg.Vector.Dimensions, cfg.Vector.Metric)
	default:
		return base, nil
	}
}
