package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/Lumen/internal/activity"
	"github.com/hbomb79/Lumen/internal/api"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/blob"
	"github.com/hbomb79/Lumen/internal/event"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Lumen represents the top-level object for the server, and is responsible
	// for initialising the stores, services and event handling.
	Lumen struct {
		config   *LumenConfig
		eventBus event.EventCoordinator
	}
)

func New(config *LumenConfig) *Lumen {
	log.Emit(logger.DEBUG, "Bootstrapping Lumen services using config: %#v\n", config.Redacted())
	return &Lumen{config: config, eventBus: event.New()}
}

// Run will start all of Lumen by connecting to the catalog and bringing up
// the ingestion service, the REST gateway and the activity service.
//
// This function will not return until Lumen is stopped.
// To stop Lumen, the provided context must be cancelled. Errors from which Lumen cannot recover
// will also cause Lumen to stop, and the first such error is returned.
func (lumen *Lumen) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("%s: %w", label, err))
	}

	blobs, err := blob.NewStore(lumen.config.Storage.UploadDir)
	if err != nil {
		return err
	}
	log.Emit(logger.INFO, "Storing uploads in %s\n", blobs.Root())

	inspector, err := archive.NewInspector(blobs.ScratchDir(), lumen.config.Archive)
	if err != nil {
		return err
	}

	store, closeStore, err := newCatalogStore(ctx, lumen.config)
	if err != nil {
		return err
	}
	defer closeStore()

	ingestService, err := ingest.New(lumen.config.Ingest, blobs, inspector, store, lumen.eventBus)
	if err != nil {
		return err
	}

	gateway, err := api.NewRestGateway(&lumen.config.RestConfig, ingestService, blobs)
	if err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	lumen.spawnAsyncService(ctx, wg, gateway, "rest-gateway", crashHandler)
	lumen.spawnAsyncService(ctx, wg, activity.New(gateway, lumen.eventBus), "activity-service", crashHandler)
	log.Emit(logger.SUCCESS, "Lumen services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (lumen *Lumen) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crashHandler(serviceLabel, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crashHandler(serviceLabel, err)
		}
	}()
}
