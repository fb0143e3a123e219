package store

import (
	"context"
	"fmt"

	"github.com/capsulehq/capsule/pkg/logger"
)

// Driver names accepted by CAPSULE_VECTOR_STORE.
const (
	DriverMemory   = "memory"
	DriverPgVector = "pgvector"
	DriverQdrant   = "qdrant"
)

// Config selects and configures the persistence backend.
type Config struct {
	Driver string `koanf:"driver" validate:"omitempty,oneof=memory pgvector qdrant"`
	PGDSN  string `koanf:"pg_dsn"`
}

// New builds the configured store. The embedded driver is the default;
// pgvector is experimental and requires a DSN; qdrant is recognized but not
// yet implemented and is rejected at boot rather than at first use.
func New(ctx context.Context, cfg Config) (Store, error) {
	log := logger.FromContext(ctx)
	switch cfg.Driver {
	case "", DriverMemory:
		log.Debug("using embedded document store")
		return NewMemoryStore(), nil
	case DriverPgVector:
		if cfg.PGDSN == "" {
			return nil, fmt.Errorf("pgvector store requires CAPSULE_PG_DSN")
		}
		log.Info("using pgvector document store (experimental)")
		return NewPostgresStore(ctx, cfg.PGDSN)
	case DriverQdrant:
		return nil, fmt.Errorf("qdrant store is not supported in this build")
	default:
		return nil, fmt.Errorf("unknown document store driver: %q", cfg.Driver)
	}
}
