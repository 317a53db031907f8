package websocket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/hbomb79/Lumen/internal/http/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireMessage struct {
	Title string         `json:"title"`
	Body  map[string]any `json:"arguments"`
	ID    int            `json:"id"`
	Type  int            `json:"type"`
}

func startHub(t *testing.T, hub *websocket.SocketHub) string {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Start(ctx)
	}()

	server := httptest.NewServer(http.HandlerFunc(hub.UpgradeToSocket))
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *gorilla.Conn {
	var (
		conn *gorilla.Conn
		err  error
	)

	// The hub starts asynchronously, so retry until it accepts upgrades
	require.Eventually(t, func() bool {
		conn, _, err = gorilla.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) wireMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSocketHub_Welcome(t *testing.T) {
	t.Parallel()
	hub := websocket.New(nil)
	hub.WithConnectionCallback(func() map[string]any { return map[string]any{"media_count": 3} })
	conn := dial(t, startHub(t, hub))

	welcome := readMessage(t, conn)
	assert.Equal(t, "CONNECTION_ESTABLISHED", welcome.Title)
	assert.Equal(t, int(websocket.Welcome), welcome.Type)
	assert.EqualValues(t, 3, welcome.Body["media_count"])
	assert.NotEmpty(t, welcome.Body["client"])
}

func TestSocketHub_Broadcast(t *testing.T) {
	t.Parallel()
	hub := websocket.New(nil)
	url := startHub(t, hub)

	first, second := dial(t, url), dial(t, url)
	readMessage(t, first)
	readMessage(t, second)

	hub.Send(&websocket.SocketMessage{Title: "MEDIA_DELETED", Body: map[string]any{"id": "abc"}, Type: websocket.Update})
	for _, conn := range []*gorilla.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "MEDIA_DELETED", msg.Title)
		assert.Equal(t, "abc", msg.Body["id"])
	}
}

func TestSocketHub_Commands(t *testing.T) {
	t.Parallel()
	hub := websocket.New(nil)
	hub.BindCommand("PING", func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		hub.Send(message.FormReply("PONG", nil, websocket.Response))
		return nil
	})
	hub.BindCommand("FAIL", func(*websocket.SocketHub, *websocket.SocketMessage) error {
		return errors.New("nope")
	})

	conn := dial(t, startHub(t, hub))
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(wireMessage{Title: "PING", ID: 7, Type: int(websocket.Command)}))
	reply := readMessage(t, conn)
	assert.Equal(t, "PONG", reply.Title)
	assert.Equal(t, 7, reply.ID)
	assert.Equal(t, "PING", reply.Body["command"])

	require.NoError(t, conn.WriteJSON(wireMessage{Title: "FAIL", ID: 8, Type: int(websocket.Command)}))
	reply = readMessage(t, conn)
	assert.Equal(t, "COMMAND_FAILURE", reply.Title)
	assert.Equal(t, "nope", reply.Body["error"])

	require.NoError(t, conn.WriteJSON(wireMessage{Title: "UNKNOWN", ID: 9, Type: int(websocket.Command)}))
	reply = readMessage(t, conn)
	assert.Equal(t, "COMMAND_FAILURE", reply.Title)
	assert.Equal(t, 9, reply.ID)
}

func TestSocketHub_RejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()
	hub := websocket.New([]string{"http://localhost:3000"})
	url := startHub(t, hub)

	require.Eventually(t, func() bool {
		_, resp, err := gorilla.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
		return err != nil && resp != nil && resp.StatusCode == http.StatusForbidden
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketMessage_ValidateArguments(t *testing.T) {
	t.Parallel()
	message := &websocket.SocketMessage{Body: map[string]any{"id": "abc", "count": float64(2), "empty": ""}}

	assert.NoError(t, message.ValidateArguments(map[string]string{"id": "string", "count": "number"}))
	assert.Error(t, message.ValidateArguments(map[string]string{"missing": "string"}))
	assert.Error(t, message.ValidateArguments(map[string]string{"empty": "string"}))
	assert.Error(t, message.ValidateArguments(map[string]string{"id": "number"}))
}
