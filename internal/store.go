package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/database"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
)

const closeTimeout = 5 * time.Second

// newCatalogStore connects to the catalog backend selected by the configuration,
// returning the store and a function which releases its connection.
func newCatalogStore(ctx context.Context, config *LumenConfig) (ingest.CatalogStore, func(), error) {
	switch config.Catalog.Driver {
	case CatalogDriverPostgres:
		log.Emit(logger.NEW, "Connecting to Postgres catalog...\n")
		db := database.New()
		if err := db.Connect(ctx, config.Database); err != nil {
			return nil, nil, err
		}

		closer := func() {
			if err := db.Close(); err != nil {
				log.Emit(logger.WARNING, "Failed to close database connection: %v\n", err)
			}
		}
		return catalog.NewPostgresStore(db), closer, nil
	case CatalogDriverMongo:
		log.Emit(logger.NEW, "Connecting to MongoDB catalog...\n")
		store, err := catalog.NewMongoStore(ctx, config.Mongo)
		if err != nil {
			return nil, nil, err
		}

		closer := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				log.Emit(logger.WARNING, "Failed to close MongoDB connection: %v\n", err)
			}
		}
		return store, closer, nil
	default:
		return nil, nil, fmt.Errorf("catalog driver '%s' is not supported", config.Catalog.Driver)
	}
}
