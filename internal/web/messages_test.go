package web

import (
	"encoding/json"
	"testing"

	"github.com/chefcode-ai/chefcode/internal/runner"
)

func TestActionMessageEnvelope(t *testing.T) {
	snap := runner.Snapshot{ID: "a1", Type: runner.ActionTypeFile, FilePath: "src/App.tsx", Status: runner.StatusComplete}

	msg := actionMessage(snap)
	if msg == nil {
		t.Fatal("actionMessage returned nil")
	}
	if msg.Type != MessageTypeAction {
		t.Errorf("type mismatch: %s", msg.Type)
	}

	var decoded runner.Snapshot
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.ID != "a1" || decoded.Status != runner.StatusComplete {
		t.Errorf("payload mismatch: %+v", decoded)
	}
}

func TestTerminalMessageEnvelope(t *testing.T) {
	msg := terminalMessage("npm install output")
	if msg == nil || msg.Type != MessageTypeTerminal {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var decoded map[string]string
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded["output"] != "npm install output" {
		t.Errorf("payload mismatch: %v", decoded)
	}
}

func TestAlertMessageEnvelope(t *testing.T) {
	alert := runner.Alert{Type: runner.AlertError, Title: "Build failed with exit code 2", Source: "build"}

	msg := alertMessage(alert)
	if msg == nil || msg.Type != MessageTypeAlert {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var decoded runner.Alert
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.Title != alert.Title || decoded.Type != runner.AlertError {
		t.Errorf("payload mismatch: %+v", decoded)
	}
}

func TestHubBroadcastDropsNil(t *testing.T) {
	h := NewHub()
	h.Broadcast(nil)

	select {
	case msg := <-h.broadcast:
		t.Errorf("nil message should be dropped, got %+v", msg)
	default:
	}
}
