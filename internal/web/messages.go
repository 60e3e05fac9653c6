package web

import (
	"encoding/json"

	"github.com/chefcode-ai/chefcode/internal/logger"
	"github.com/chefcode-ai/chefcode/internal/runner"
)

// Message types pushed to observer clients
const (
	MessageTypeAction   = "action"
	MessageTypeTerminal = "terminal"
	MessageTypeAlert    = "alert"
)

// Message is the envelope for all observer pushes
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data}, nil
}

// actionMessage wraps an action state snapshot
func actionMessage(snap runner.Snapshot) *Message {
	msg, err := newMessage(MessageTypeAction, snap)
	if err != nil {
		logger.Error("web: failed to marshal action message: %v", err)
		return nil
	}
	return msg
}

// terminalMessage wraps a terminal output snapshot
func terminalMessage(snapshot string) *Message {
	msg, err := newMessage(MessageTypeTerminal, map[string]string{"output": snapshot})
	if err != nil {
		logger.Error("web: failed to marshal terminal message: %v", err)
		return nil
	}
	return msg
}

// alertMessage wraps an alert
func alertMessage(alert runner.Alert) *Message {
	msg, err := newMessage(MessageTypeAlert, alert)
	if err != nil {
		logger.Error("web: failed to marshal alert message: %v", err)
		return nil
	}
	return msg
}
