package runner

import (
	"context"
	"sync"

	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// StatePatch is a shallow merge applied to a registered action
type StatePatch struct {
	Status   *ActionStatus
	Content  *string
	Error    *string
	Executed *bool
}

func statusPatch(status ActionStatus) StatePatch {
	return StatePatch{Status: &status}
}

// Registry is the ordered, keyed store of action states for one chat turn.
// Registration is idempotent: a streamed partial update for a known id
// patches content in place instead of re-creating identity. Every mutation
// is published to subscribers.
type Registry struct {
	mu          sync.RWMutex
	order       []string
	states      map[string]*ActionState
	subscribers map[int]func(Snapshot)
	nextSubID   int

	host container.Host
}

// NewRegistry creates a registry backed by the given host. The host is
// consulted once per file action to derive the IsEdit flag.
func NewRegistry(host container.Host) *Registry {
	return &Registry{
		states:      make(map[string]*ActionState),
		subscribers: make(map[int]func(Snapshot)),
		host:        host,
	}
}

// Subscribe registers a mutation observer and returns an unsubscribe func
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

// Add registers a new action or patches the content of a known one.
// The IsEdit flag for file actions is derived exactly once, at first sight
// of the id, against the host's current file state.
func (r *Registry) Add(ctx context.Context, event ActionEvent) {
	r.mu.Lock()

	if state, ok := r.states[event.ActionID]; ok {
		sig := contentSignature(event.Action.Content)
		if sig == state.contentSig {
			r.mu.Unlock()
			return
		}
		state.Action.Content = event.Action.Content
		state.contentSig = sig
		snap := state.snapshot()
		r.notifyLocked(snap)
		r.mu.Unlock()
		return
	}

	state := newActionState(event.ActionID, event.Action)
	r.states[event.ActionID] = state
	r.order = append(r.order, event.ActionID)
	r.mu.Unlock()

	// Exists goes to the host outside the lock; the flag is written before
	// anyone can observe the new entry mid-derivation because Add is the
	// only writer for a fresh id.
	if event.Action.Type == ActionTypeFile && r.host != nil {
		exists, err := r.host.Exists(ctx, event.Action.FilePath)
		if err != nil {
			logger.Warn("registry: failed to check file state for %s: %v", event.Action.FilePath, err)
		}
		r.mu.Lock()
		state.IsEdit = exists
		r.mu.Unlock()
	}

	r.mu.RLock()
	snap := state.snapshot()
	r.notifyLocked(snap)
	r.mu.RUnlock()
}

// claimExecution atomically merges an incoming run payload and decides
// whether this delivery executes. Exactly one final delivery can win for a
// given id; redeliveries of an already-executed action lose, as do
// streaming updates targeting anything but a file action. Test and mark
// happen under one lock, so concurrent deliveries of the same finalized
// action cannot both win.
func (r *Registry) claimExecution(id, content string, isStreaming bool) bool {
	r.mu.Lock()

	state, ok := r.states[id]
	if !ok || state.Executed {
		r.mu.Unlock()
		return false
	}
	if isStreaming && state.Action.Type != ActionTypeFile {
		r.mu.Unlock()
		return false
	}

	state.Action.Content = content
	state.contentSig = contentSignature(content)
	state.Executed = !isStreaming

	snap := state.snapshot()
	r.notifyLocked(snap)
	r.mu.Unlock()
	return true
}

// Update shallow-merges a patch into an existing entry. Unknown ids are
// ignored (the upstream stream may race ahead of registration).
func (r *Registry) Update(id string, patch StatePatch) {
	r.mu.Lock()

	state, ok := r.states[id]
	if !ok {
		r.mu.Unlock()
		logger.Debug("registry: update for unknown action %s ignored", id)
		return
	}

	if patch.Status != nil {
		state.Status = *patch.Status
	}
	if patch.Content != nil {
		state.Action.Content = *patch.Content
		state.contentSig = contentSignature(*patch.Content)
	}
	if patch.Error != nil {
		state.Error = *patch.Error
	}
	if patch.Executed != nil {
		state.Executed = *patch.Executed
	}

	snap := state.snapshot()
	r.notifyLocked(snap)
	r.mu.Unlock()
}

// Abort synchronously marks the action aborted and fires its abort signal.
// Aborting an already-terminal action is a no-op.
func (r *Registry) Abort(id string) {
	r.mu.Lock()

	state, ok := r.states[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	state.signalAbort()
	if state.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	state.Status = StatusAborted

	snap := state.snapshot()
	r.notifyLocked(snap)
	r.mu.Unlock()

	logger.Info("registry: action %s aborted", id)
}

// Get returns a snapshot of the action state
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[id]
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot(), true
}

// Snapshots returns all action states in registration order
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.states[id].snapshot())
	}
	return out
}

// state returns the mutable entry; only the runner uses this
func (r *Registry) state(id string) (*ActionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[id]
	return state, ok
}

// notifyLocked publishes a snapshot; callers hold at least the read lock
func (r *Registry) notifyLocked(snap Snapshot) {
	for _, fn := range r.subscribers {
		fn(snap)
	}
}
