package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// scriptedTool is a minimal Tool for dispatcher tests
type scriptedTool struct {
	name   string
	result string
	err    error
}

func (t *scriptedTool) Name() string                       { return t.name }
func (t *scriptedTool) Description() string                { return "scripted test tool" }
func (t *scriptedTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (t *scriptedTool) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	return t.result, t.err
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedTool{name: "alpha"})
	r.Register(&scriptedTool{name: "beta"})

	if _, ok := r.Get("alpha"); !ok {
		t.Error("registered tool should be retrievable")
	}
	if _, ok := r.Get("gamma"); ok {
		t.Error("unregistered tool should not be found")
	}
	if len(r.List()) != 2 {
		t.Errorf("expected 2 tools, got %d", len(r.List()))
	}
}

func TestRegistryToJSONSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedTool{name: "alpha"})

	schemas := r.ToJSONSchema()
	if len(schemas) != 1 {
		t.Fatalf("expected 1 schema, got %d", len(schemas))
	}
	fn, ok := schemas[0]["function"].(map[string]interface{})
	if !ok {
		t.Fatal("schema missing function block")
	}
	if fn["name"] != "alpha" {
		t.Errorf("schema name mismatch: %v", fn["name"])
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedTool{name: "view", result: "file contents"})
	d := NewDispatcher(r, NewSanitizer(nil, 0))

	result, err := d.Dispatch(context.Background(), "view", json.RawMessage(`{"path":"a.ts"}`))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !result.OK() {
		t.Error("successful tool should yield a success result")
	}
	if result.Wire() != "file contents" {
		t.Errorf("wire mismatch: %q", result.Wire())
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry(), NewSanitizer(nil, 0))

	// An unknown tool both resolves the call as a failure and surfaces a
	// chain-level error.
	result, err := d.Dispatch(context.Background(), "bogus", nil)
	if err == nil {
		t.Error("unknown tool should report a chain-level error")
	}
	if result.OK() {
		t.Error("unknown tool should yield a failure result")
	}
	if !strings.HasPrefix(result.Wire(), "Error: ") {
		t.Errorf("failure wire should carry the Error: prefix, got %q", result.Wire())
	}
}

func TestDispatchMalformedArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedTool{name: "view"})
	d := NewDispatcher(r, NewSanitizer(nil, 0))

	result, err := d.Dispatch(context.Background(), "view", json.RawMessage(`not json`))
	if err != nil {
		t.Errorf("argument failures stay tool-local, got chain error %v", err)
	}
	if result.OK() {
		t.Error("malformed arguments should yield a failure result")
	}
}

func TestDispatchToolErrorBecomesFailureResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&scriptedTool{name: "edit", err: errors.New("old text not found in a.ts")})
	d := NewDispatcher(r, NewSanitizer(nil, 0))

	result, err := d.Dispatch(context.Background(), "edit", nil)
	if err != nil {
		t.Errorf("tool failures stay tool-local, got chain error %v", err)
	}
	if result.OK() {
		t.Error("tool error should yield a failure result")
	}
	if result.Wire() != "Error: old text not found in a.ts" {
		t.Errorf("wire mismatch: %q", result.Wire())
	}
}

func TestGetParamHelpers(t *testing.T) {
	params := map[string]interface{}{
		"name":  "value",
		"count": float64(7),
	}

	if got := GetStringParam(params, "name", "d"); got != "value" {
		t.Errorf("GetStringParam mismatch: %q", got)
	}
	if got := GetStringParam(params, "missing", "d"); got != "d" {
		t.Errorf("GetStringParam default mismatch: %q", got)
	}
	if got := GetIntParam(params, "count", 0); got != 7 {
		t.Errorf("GetIntParam mismatch: %d", got)
	}
	if got := GetIntParam(params, "missing", 3); got != 3 {
		t.Errorf("GetIntParam default mismatch: %d", got)
	}
}
