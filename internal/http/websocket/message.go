package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type MessageType int

const (
	Update MessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is a single message sent over a websocket connection. The ID
// is chosen by the client when sending a command, and is echoed back in
// any reply so the client can pair the two. Origin and Target identify the
// client a message came from, or should be delivered to.
type SocketMessage struct {
	Title  string         `json:"title"`
	Body   map[string]any `json:"arguments"`
	ID     int            `json:"id"`
	Type   MessageType    `json:"type"`
	Origin *uuid.UUID     `json:"-"`
	Target *uuid.UUID     `json:"-"`
}

// ValidateArguments checks that the message body contains each of the required keys
// with a value of the expected kind ("string" or "number").
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	for key, kind := range required {
		v, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("argument '%s' is missing", key)
		}

		switch kind {
		case "number", "int":
			if _, ok := v.(float64); !ok {
				return fmt.Errorf("argument '%s' must be a number", key)
			}
		case "string":
			if s, ok := v.(string); !ok || s == "" {
				return fmt.Errorf("argument '%s' must be a non-empty string", key)
			}
		default:
			return fmt.Errorf("argument '%s' has unknown kind '%s'", key, kind)
		}
	}

	return nil
}

// FormReply returns a new message addressed to the origin of this message, carrying
// the same ID.
func (message *SocketMessage) FormReply(title string, body map[string]any, replyType MessageType) *SocketMessage {
	if body == nil {
		body = make(map[string]any)
	}
	body["command"] = message.Title

	return &SocketMessage{
		Title:  title,
		Body:   body,
		Type:   replyType,
		ID:     message.ID,
		Target: message.Origin,
	}
}
