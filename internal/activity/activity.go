// Package activity listens for catalog and ingestion events on the event bus,
// and relays them to connected clients via a broadcaster. Bursts of events for
// the same resource are debounced in to a single broadcast.
package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/event"
	"github.com/hbomb79/Lumen/pkg/logger"
)

var log = logger.Get("Activity")

const (
	DEBOUNCE_DURATION  time.Duration = time.Millisecond * 250
	MAX_TIMER_DURATION time.Duration = time.Second
)

var ErrUnknownEvent = errors.New("activity service cannot handle event")

type (
	broadcastHandler func(uuid.UUID) error

	Broadcaster interface {
		BroadcastMediaCreated(uuid.UUID) error
		BroadcastMediaDeleted(uuid.UUID) error
		BroadcastIngestComplete(uuid.UUID) error
		BroadcastIngestFailed(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	Service struct {
		sync.Mutex
		broadcaster    Broadcaster
		eventBus       event.EventHandler
		debounce       time.Duration
		maxWait        time.Duration
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func New(broadcaster Broadcaster, eventBus event.EventHandler) *Service {
	return NewWithTimings(broadcaster, eventBus, DEBOUNCE_DURATION, MAX_TIMER_DURATION)
}

// NewWithTimings constructs an activity service with custom debounce timings. The
// debounce duration is how long the service waits for further events for the same
// resource before broadcasting; maxWait bounds how long a broadcast can be deferred.
func NewWithTimings(broadcaster Broadcaster, eventBus event.EventHandler, debounce time.Duration, maxWait time.Duration) *Service {
	return &Service{
		broadcaster:    broadcaster,
		eventBus:       eventBus,
		debounce:       debounce,
		maxWait:        maxWait,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *Service) Run(ctx context.Context) error {
	messageChan := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.MEDIA_CREATED, event.MEDIA_DELETED,
		event.INGEST_COMPLETE, event.INGEST_FAILED)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			service.deregister(messageChan)
			service.stopTimers()
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

// deregister removes the handler channel from the event bus, discarding any
// events received in the meantime so that dispatchers are never left blocked
// on a channel nobody is reading.
func (service *Service) deregister(messageChan event.HandlerChannel) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		service.eventBus.DeregisterHandlerChannel(messageChan)
	}()

	for {
		select {
		case <-messageChan:
		case <-done:
			return
		}
	}
}

func (service *Service) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	key := eventKey{id: resourceID, ev: ev.Event}
	switch ev.Event {
	case event.MEDIA_CREATED:
		service.scheduleBroadcast(key, service.broadcaster.BroadcastMediaCreated)
	case event.MEDIA_DELETED:
		service.scheduleBroadcast(key, service.broadcaster.BroadcastMediaDeleted)
	case event.INGEST_COMPLETE:
		service.scheduleBroadcast(key, service.broadcaster.BroadcastIngestComplete)
	case event.INGEST_FAILED:
		service.scheduleBroadcast(key, service.broadcaster.BroadcastIngestFailed)
	default:
		return ErrUnknownEvent
	}

	return nil
}

func (service *Service) scheduleBroadcast(key eventKey, handler broadcastHandler) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(key, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := service.debounceTimers[key]; ok {
		t.Stop()
	}
	service.debounceTimers[key] = time.AfterFunc(service.debounce, broadcaster)

	// Set a max timer if not already set
	if _, ok := service.maxTimers[key]; !ok {
		service.maxTimers[key] = time.AfterFunc(service.maxWait, broadcaster)
	}
}

func (service *Service) broadcast(key eventKey, handler broadcastHandler) {
	service.Lock()
	debounceTimer, pending := service.debounceTimers[key]
	if !pending {
		// Both timers fired at once, and the other already broadcast
		service.Unlock()
		return
	}

	debounceTimer.Stop()
	delete(service.debounceTimers, key)
	if t, ok := service.maxTimers[key]; ok {
		t.Stop()
		delete(service.maxTimers, key)
	}
	service.Unlock()

	if err := handler(key.id); err != nil {
		log.Emit(logger.WARNING, "Broadcast of %s for %s failed: %v\n", key.ev, key.id, err)
	}
}

func (service *Service) stopTimers() {
	service.Lock()
	defer service.Unlock()

	for key, t := range service.debounceTimers {
		t.Stop()
		delete(service.debounceTimers, key)
	}
	for key, t := range service.maxTimers {
		t.Stop()
		delete(service.maxTimers, key)
	}
}
