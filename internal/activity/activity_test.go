package activity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/activity"
	"github.com/hbomb79/Lumen/internal/event"
	"github.com/stretchr/testify/assert"
)

type recordingBroadcaster struct {
	sync.Mutex
	calls map[string][]uuid.UUID
}

func (b *recordingBroadcaster) record(kind string, id uuid.UUID) error {
	b.Lock()
	defer b.Unlock()
	b.calls[kind] = append(b.calls[kind], id)
	return nil
}

func (b *recordingBroadcaster) count(kind string) int {
	b.Lock()
	defer b.Unlock()
	return len(b.calls[kind])
}

func (b *recordingBroadcaster) BroadcastMediaCreated(id uuid.UUID) error {
	return b.record("created", id)
}

func (b *recordingBroadcaster) BroadcastMediaDeleted(id uuid.UUID) error {
	return b.record("deleted", id)
}

func (b *recordingBroadcaster) BroadcastIngestComplete(id uuid.UUID) error {
	return b.record("complete", id)
}

func (b *recordingBroadcaster) BroadcastIngestFailed(id uuid.UUID) error {
	return b.record("failed", id)
}

func startService(t *testing.T) (*recordingBroadcaster, event.EventCoordinator) {
	broadcaster := &recordingBroadcaster{calls: make(map[string][]uuid.UUID)}
	bus := event.New()
	service := activity.NewWithTimings(broadcaster, bus, 20*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = service.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the service to subscribe before dispatching
	time.Sleep(20 * time.Millisecond)
	return broadcaster, bus
}

func TestActivity_RelaysEvents(t *testing.T) {
	t.Parallel()
	broadcaster, bus := startService(t)

	bus.Dispatch(event.MEDIA_CREATED, uuid.New())
	bus.Dispatch(event.MEDIA_DELETED, uuid.New())
	bus.Dispatch(event.INGEST_COMPLETE, uuid.New())
	bus.Dispatch(event.INGEST_FAILED, uuid.New())

	assert.Eventually(t, func() bool {
		return broadcaster.count("created") == 1 &&
			broadcaster.count("deleted") == 1 &&
			broadcaster.count("complete") == 1 &&
			broadcaster.count("failed") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestActivity_DebouncesRepeatedEvents(t *testing.T) {
	t.Parallel()
	broadcaster, bus := startService(t)

	id := uuid.New()
	for i := 0; i < 5; i++ {
		bus.Dispatch(event.MEDIA_CREATED, id)
	}

	assert.Eventually(t, func() bool { return broadcaster.count("created") == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, broadcaster.count("created"))
}

func TestActivity_ShutdownReleasesDispatchers(t *testing.T) {
	broadcaster := &recordingBroadcaster{calls: make(map[string][]uuid.UUID)}
	bus := event.New()
	service := activity.NewWithTimings(broadcaster, bus, 20*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = service.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-stopped

	// Far more events than the service buffers, with nobody left to receive them
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for i := 0; i < 500; i++ {
			bus.Dispatch(event.MEDIA_DELETED, uuid.New())
		}
	}()

	select {
	case <-dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked after the activity service stopped")
	}
	assert.Equal(t, 0, broadcaster.count("deleted"))
}
