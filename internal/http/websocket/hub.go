package websocket

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hbomb79/Lumen/pkg/logger"
)

var log = logger.Get("WebSocket")

type (
	SocketHandler func(*SocketHub, *SocketMessage) error

	// SocketHub is responsible for upgrading incoming HTTP connections
	// to websockets, and for routing messages to/from the connected clients.
	// All writes to a client happen from the hub's own goroutine, as a
	// gorilla websocket connection supports only one concurrent writer.
	SocketHub struct {
		handlers           map[string]SocketHandler
		upgrader           *websocket.Upgrader
		clients            map[uuid.UUID]*socketClient
		registerCh         chan *socketClient
		deregisterCh       chan *socketClient
		sendCh             chan *SocketMessage
		receiveCh          chan *SocketMessage
		connectionCallback func() map[string]any
		running            atomic.Bool
		done               chan struct{}
	}
)

// New returns a SocketHub which will accept websocket upgrades
// from any of the origins provided. An empty list of origins permits
// all origins.
func New(allowedOrigins []string) *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		sendCh:       make(chan *SocketMessage),
		receiveCh:    make(chan *SocketMessage),
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		done:         make(chan struct{}),
	}
}

// WithConnectionCallback sets a callback which is executed for each new client. The map
// returned is sent to the client in the welcome message, allowing it to be furnished
// with the current state without waiting for an update.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]any) {
	hub.connectionCallback = callback
}

// BindCommand binds the command name provided to a handler, which will be
// invoked each time a client sends a command with a matching title.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start runs the hub until the context provided is cancelled, at which point
// all connected clients are closed. A hub cannot be restarted once closed.
func (hub *SocketHub) Start(ctx context.Context) {
	if ctx.Err() != nil {
		log.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	}
	select {
	case <-hub.done:
		log.Emit(logger.WARNING, "Attempting to start socket hub which has already closed! Ignoring request.\n")
		return
	default:
	}
	if !hub.running.CompareAndSwap(false, true) {
		log.Emit(logger.WARNING, "Attempting to start socket hub when already running! Ignoring request.\n")
		return
	}

	log.Emit(logger.INFO, "Opening socket hub\n")
	hub.clients = make(map[uuid.UUID]*socketClient)
	defer hub.close()

	for {
		select {
		case message := <-hub.sendCh:
			if message.Target == nil {
				hub.broadcastMessage(message)
				break
			}

			if client, ok := hub.clients[*message.Target]; ok {
				if err := client.SendMessage(message); err != nil {
					log.Emit(logger.ERROR, "Failed to send message to client {%s}: %v\n", client.id, err)
				}
			} else {
				log.Emit(logger.WARNING, "Attempted to send message to client {%s}, but no matching client was found\n", *message.Target)
			}
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if _, ok := hub.clients[client.id]; ok {
				log.Emit(logger.ERROR, "Attempted to register client {%s} which is already registered\n", client.id)
				client.Close()
				break
			}

			hub.clients[client.id] = client
			log.Emit(logger.NEW, "Registered new client {%s}\n", client.id)
		case client := <-hub.deregisterCh:
			if _, ok := hub.clients[client.id]; !ok {
				log.Emit(logger.WARNING, "Attempted to deregister unknown client {%s}\n", client.id)
				break
			}

			delete(hub.clients, client.id)
			client.Close()
			log.Emit(logger.REMOVE, "Deregistered client {%s}\n", client.id)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Shutting down socket hub, closing all clients\n")
			return
		}
	}
}

// Send queues the message for delivery. A message with a Target is only sent to the
// client with a matching ID, otherwise it is sent to all clients. Messages sent while
// the hub is not running are discarded.
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running.Load() {
		log.Emit(logger.DEBUG, "Socket hub is offline, discarding message '%s'\n", message.Title)
		return
	}

	select {
	case hub.sendCh <- message:
	case <-hub.done:
	}
}

// UpgradeToSocket upgrades the HTTP request provided to a websocket, registering
// the new client with the hub. This method blocks until the client disconnects.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running.Load() {
		log.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: socket hub has not been started\n")
		http.Error(w, "activity feed unavailable", http.StatusServiceUnavailable)
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: %v\n", err)
		return
	}

	client := &socketClient{id: uuid.New(), socket: sock}
	select {
	case hub.registerCh <- client:
	case <-hub.done:
		client.Close()
		return
	}
	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-hub.done:
			client.Close()
		}
	}()

	body := make(map[string]any)
	if hub.connectionCallback != nil {
		for k, v := range hub.connectionCallback() {
			body[k] = v
		}
	}
	body["client"] = client.id

	hub.Send(&SocketMessage{Title: "CONNECTION_ESTABLISHED", Body: body, Target: &client.id, Type: Welcome})

	if err := client.Read(hub.receiveCh, hub.done); err != nil {
		log.Emit(logger.DEBUG, "Client {%s} read loop closed: %v\n", client.id, err)
	}
}

func (hub *SocketHub) close() {
	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	hub.running.Store(false)
	close(hub.done)
	log.Emit(logger.STOP, "Socket hub is now closed\n")
}

// handleMessage forwards the command to its bound handler, replying
// with an error if no such handler exists or it fails.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		log.Emit(logger.WARNING, "Client {%v} sent a message of type %v, only commands may be sent to the server\n", command.Origin, command.Type)
		return
	}

	handler, ok := hub.handlers[command.Title]
	if !ok {
		log.Emit(logger.WARNING, "No handler found for command '%s'\n", command.Title)
		hub.Send(command.FormReply("COMMAND_FAILURE", map[string]any{"error": "unknown command"}, ErrorResponse))
		return
	}

	if err := handler(hub, command); err != nil {
		log.Emit(logger.ERROR, "Handler for command '%s' failed: %v\n", command.Title, err)
		hub.Send(command.FormReply("COMMAND_FAILURE", map[string]any{"error": err.Error()}, ErrorResponse))
		return
	}

	log.Emit(logger.SUCCESS, "Handler for command '%s' executed successfully\n", command.Title)
}

func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast '%s' to client {%s}: %v\n", message.Title, client.id, err)
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	permitted := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		permitted[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		_, ok := permitted[origin]
		return ok
	}
}
