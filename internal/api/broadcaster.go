package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/api/videos"
	"github.com/hbomb79/Lumen/internal/http/websocket"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
)

const (
	TITLE_MEDIA_CREATED   = "MEDIA_CREATED"
	TITLE_MEDIA_DELETED   = "MEDIA_DELETED"
	TITLE_INGEST_COMPLETE = "INGEST_COMPLETE"
	TITLE_INGEST_FAILED   = "INGEST_FAILED"

	COMMAND_LIST_MEDIA = "LIST_MEDIA"
	COMMAND_GET_MEDIA  = "GET_MEDIA"

	lookupTimeout = 5 * time.Second
)

type broadcaster struct {
	socketHub *websocket.SocketHub
	service   videos.Service
}

func newBroadcaster(socketHub *websocket.SocketHub, service videos.Service) *broadcaster {
	return &broadcaster{socketHub: socketHub, service: service}
}

func (hub *broadcaster) BroadcastMediaCreated(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	record, err := hub.service.Get(ctx, id)
	if err != nil {
		var notFound *ingest.NotFoundError
		if errors.As(err, &notFound) {
			// Deleted before the broadcast fired; the deletion will be broadcast instead
			return nil
		}

		return err
	}

	hub.broadcast(TITLE_MEDIA_CREATED, map[string]any{"media_id": id, "media": videos.NewDto(record)})
	return nil
}

func (hub *broadcaster) BroadcastMediaDeleted(id uuid.UUID) error {
	hub.broadcast(TITLE_MEDIA_DELETED, map[string]any{"media_id": id})
	return nil
}

func (hub *broadcaster) BroadcastIngestComplete(id uuid.UUID) error {
	hub.broadcast(TITLE_INGEST_COMPLETE, map[string]any{"ingest_id": id})
	return nil
}

func (hub *broadcaster) BroadcastIngestFailed(id uuid.UUID) error {
	hub.broadcast(TITLE_INGEST_FAILED, map[string]any{"ingest_id": id})
	return nil
}

func (hub *broadcaster) broadcast(title string, body map[string]any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  body,
		Type:  websocket.Update,
	})
}

func (gateway *RestGateway) bindSocketCommands() {
	gateway.socket.WithConnectionCallback(func() map[string]any {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		records, err := gateway.service.List(ctx)
		if err != nil {
			log.Emit(logger.WARNING, "Failed to count media for new socket client: %v\n", err)
			return nil
		}

		return map[string]any{"media_count": len(records)}
	})

	gateway.socket.BindCommand(COMMAND_LIST_MEDIA, func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		records, err := gateway.service.List(ctx)
		if err != nil {
			return errors.New("failed to list media")
		}

		hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]any{"payload": videos.NewDtos(records)}, websocket.Response))
		return nil
	})

	gateway.socket.BindCommand(COMMAND_GET_MEDIA, func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		if err := message.ValidateArguments(map[string]string{"id": "string"}); err != nil {
			return err
		}

		//nolint:forcetypeassert
		id, err := uuid.Parse(message.Body["id"].(string))
		if err != nil {
			return errors.New("argument 'id' is not a valid UUID")
		}

		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		record, err := gateway.service.Get(ctx, id)
		if err != nil {
			_, reason := classifyError(err)
			return errors.New(reason)
		}

		hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]any{"payload": videos.NewDto(record)}, websocket.Response))
		return nil
	})
}
