package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/chefcode-ai/chefcode/internal/logger"
)

// wireErrorPrefix is the literal prefix the external agent loop branches on
// to distinguish tool failure from success. It must not change.
const wireErrorPrefix = "Error: "

// Result is the tagged outcome of a tool call. Internally success and
// failure are explicit; the stringly-typed wire convention only appears at
// the boundary via Wire.
type Result struct {
	ok   bool
	text string
}

// OK creates a successful result
func OK(text string) Result {
	return Result{ok: true, text: text}
}

// Err creates a failed result
func Err(text string) Result {
	return Result{ok: false, text: text}
}

// Errf creates a failed result from a format string
func Errf(format string, args ...interface{}) Result {
	return Result{ok: false, text: fmt.Sprintf(format, args...)}
}

// OK reports whether the tool call succeeded
func (r Result) OK() bool { return r.ok }

// Text returns the payload without wire formatting
func (r Result) Text() string { return r.text }

// Wire serializes the result to the textual convention the agent loop
// expects: plain text on success, "Error: <message>" on failure.
func (r Result) Wire() string {
	if r.ok {
		return r.text
	}
	return wireErrorPrefix + r.text
}

// Deferred is a one-shot result slot with external resolution. It bridges
// the runner (producer) and the agent loop (consumer) without a shared call
// stack; either side may reference it first.
type Deferred struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newDeferred() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolve settles the deferred exactly once. Duplicate resolutions are
// no-ops and report false.
func (d *Deferred) Resolve(result Result) bool {
	resolved := false
	d.once.Do(func() {
		d.result = result
		close(d.done)
		resolved = true
	})
	return resolved
}

// Resolved reports whether the deferred has settled
func (d *Deferred) Resolved() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Await blocks until the deferred settles or ctx expires
func (d *Deferred) Await(ctx context.Context) (Result, error) {
	select {
	case <-d.done:
		return d.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Bridge maps tool-call ids to deferred results. Entries are created
// lazily on first reference from either side, which makes producer and
// consumer order-independent.
type Bridge struct {
	mu      sync.Mutex
	entries map[string]*Deferred
}

// New creates an empty bridge
func New() *Bridge {
	return &Bridge{entries: make(map[string]*Deferred)}
}

// Lookup returns the deferred for the given tool-call id, creating it if
// this is the first reference.
func (b *Bridge) Lookup(toolCallID string) *Deferred {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.entries[toolCallID]
	if !ok {
		d = newDeferred()
		b.entries[toolCallID] = d
	}
	return d
}

// Resolve settles the deferred for the given id. Settled entries stay in
// the map so late lookups observe the same value instead of re-creating an
// unresolved slot.
func (b *Bridge) Resolve(toolCallID string, result Result) bool {
	resolved := b.Lookup(toolCallID).Resolve(result)
	if !resolved {
		logger.Warn("bridge: duplicate resolution for tool call %s ignored", toolCallID)
	}
	return resolved
}

// Await blocks until the given tool call settles and returns its wire
// string.
func (b *Bridge) Await(ctx context.Context, toolCallID string) (string, error) {
	result, err := b.Lookup(toolCallID).Await(ctx)
	if err != nil {
		return "", err
	}
	return result.Wire(), nil
}

// Len returns the number of known tool-call entries
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
