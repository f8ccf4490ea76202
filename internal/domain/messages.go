package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server message types.
const (
	MsgPing            = "ping"
	MsgStartSimulation = "start_simulation"
	MsgStopSimulation  = "stop_simulation"
)

// Server -> client message types.
const (
	MsgPong                  = "pong"
	MsgConnectionEstablished = "connection_established"
	MsgErrorNotification     = "error_notification"
	MsgSystemNotification    = "system_notification"
)

const UpdateComplete = "complete"

// ClientMessage is a decoded control message from a browser connection.
type ClientMessage struct {
	Type       string `json:"type"`
	IntervalMs int    `json:"intervalMs,omitempty"`
	Seed       int64  `json:"seed,omitempty"`
}

var errInvalidMessage = errors.New("invalid client message")

// ParseClientMessage decodes and validates a client control frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	switch msg.Type {
	case MsgPing, MsgStartSimulation, MsgStopSimulation:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", errInvalidMessage)
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown type %q", errInvalidMessage, msg.Type)
	}
}

type PongMessage struct {
	Type string `json:"type"`
}

func NewPong() PongMessage { return PongMessage{Type: MsgPong} }

type ConnectionEstablishedMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
	DemoType     string `json:"demoType"`
}

// UpdateMessage is the "<domain>_update" event carrying simulated data.
type UpdateMessage struct {
	Type       string `json:"type"`
	UpdateType string `json:"update_type"`
	Data       any    `json:"data"`
}

type ErrorNotification struct {
	Type      string `json:"type"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func NewErrorNotification(errorType, message string) ErrorNotification {
	return ErrorNotification{Type: MsgErrorNotification, ErrorType: errorType, Message: message}
}

type SystemNotification struct {
	Type             string `json:"type"`
	NotificationType string `json:"notification_type"`
	Title            string `json:"title"`
	Message          string `json:"message"`
}

func NewSystemNotification(notificationType, title, message string) SystemNotification {
	return SystemNotification{Type: MsgSystemNotification, NotificationType: notificationType, Title: title, Message: message}
}
