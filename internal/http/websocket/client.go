package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

type socketClient struct {
	id        uuid.UUID
	socket    *websocket.Conn
	closeOnce sync.Once
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	if err := client.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return client.socket.WriteJSON(message)
}

// Read starts a read-loop on the clients websocket connection, emitting
// all received messages on the channel provided. The loop exits when the
// connection fails or a message cannot be decoded. It is the responsibility
// of the caller to de-register the client once this happens.
func (client *socketClient) Read(receiveCh chan<- *SocketMessage, done <-chan struct{}) error {
	for {
		var recv SocketMessage
		if err := client.socket.ReadJSON(&recv); err != nil {
			return err
		}

		recv.Origin = &client.id
		select {
		case receiveCh <- &recv:
		case <-done:
			return nil
		}
	}
}

func (client *socketClient) Close() {
	client.closeOnce.Do(func() { client.socket.Close() })
}
