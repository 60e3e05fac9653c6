package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chefcode-ai/chefcode/internal/bridge"
	"github.com/chefcode-ai/chefcode/internal/consts"
	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// AlertType classifies alerts surfaced to the UI
type AlertType string

const (
	// AlertError surfaces a command failure
	AlertError AlertType = "error"
	// AlertPreview surfaces a non-failure notable event
	AlertPreview AlertType = "preview"
)

// Alert is pushed to the surrounding system when an execution outcome
// needs user-visible surfacing beyond the action state itself.
type Alert struct {
	Type        AlertType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Source      string    `json:"source"`
}

// ToolDispatcher executes a named tool against the host and returns its
// tagged result. A non-nil error additionally reports the failure to the
// runner's chain-level bookkeeping (used for unknown tool names); the
// result is still resolved to the waiting caller either way.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, toolName string, args json.RawMessage) (bridge.Result, error)
}

// BuildCommand names the host command spawned for build actions
type BuildCommand struct {
	Command string
	Args    []string
}

// Options configures a Runner
type Options struct {
	Host       container.Host
	Registry   *Registry
	Bridge     *bridge.Bridge
	Dispatcher ToolDispatcher
	Build      BuildCommand
	// OnAlert is invoked for build failures and notable events; may be nil
	OnAlert func(Alert)
}

type job struct {
	id        string
	streaming bool
	result    chan error
}

// Runner consumes action events and executes them strictly one at a time.
//
// The upstream stream may deliver events concurrently and redeliver
// finalized actions; side-effecting execution is serialized through a
// single-consumer work queue feeding one worker goroutine, so execution
// order equals finalization order and no two action bodies ever overlap.
type Runner struct {
	host       container.Host
	registry   *Registry
	bridge     *bridge.Bridge
	dispatcher ToolDispatcher
	build      BuildCommand
	onAlert    func(Alert)

	queue chan *job

	ctx       context.Context
	cancel    context.CancelFunc
	workerWG  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a runner and starts its worker
func New(opts Options) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		host:       opts.Host,
		registry:   opts.Registry,
		bridge:     opts.Bridge,
		dispatcher: opts.Dispatcher,
		build:      opts.Build,
		onAlert:    opts.OnAlert,
		queue:      make(chan *job, consts.ActionQueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	r.workerWG.Add(1)
	go r.worker()

	return r
}

// Close stops the worker. Jobs still queued at shutdown are failed with
// ErrRunnerClosed; the queue channel itself is never closed, so concurrent
// RunAction callers can never panic on a closed-channel send.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.workerWG.Wait()
	})
}

// Registry returns the runner's action registry
func (r *Runner) Registry() *Registry {
	return r.registry
}

// AddAction registers or patches an action from a stream event
func (r *Runner) AddAction(ctx context.Context, event ActionEvent) {
	r.registry.Add(ctx, event)
}

// Abort aborts the given action
func (r *Runner) Abort(id string) {
	r.registry.Abort(id)
}

// RunAction schedules an action for execution and waits for it to finish.
//
// Idempotence rules, in order: an already-executed action is a no-op (the
// stream may redeliver finalized actions); a streaming update for anything
// but a file action is a no-op (partial tool arguments are not well
// formed); otherwise the event payload is merged, the action is marked
// executed when final, and its execution is appended to the serialized
// queue. The merge-and-mark step is a single atomic claim in the registry,
// so of any number of concurrent deliveries of the same finalized action,
// exactly one reaches the queue.
func (r *Runner) RunAction(ctx context.Context, event ActionEvent, isStreaming bool) error {
	state, ok := r.registry.state(event.ActionID)
	if !ok {
		logger.Error("runner: run requested for unregistered action %s", event.ActionID)
		return fmt.Errorf("%w: %s", ErrUnknownAction, event.ActionID)
	}

	if !r.registry.claimExecution(event.ActionID, event.Action.Content, isStreaming) {
		return nil
	}

	j := &job{id: state.ID, streaming: isStreaming, result: make(chan error, 1)}

	select {
	case r.queue <- j:
	case <-r.ctx.Done():
		return ErrRunnerClosed
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRunnerClosed
	}
}

// worker executes queued jobs one after another. A failed job never stalls
// the queue: the error is delivered to the job's waiter and the worker
// moves on to the next action.
func (r *Runner) worker() {
	defer r.workerWG.Done()

	for {
		select {
		case <-r.ctx.Done():
			r.failQueued()
			return
		case j := <-r.queue:
			err := r.execute(j.id, j.streaming)
			if err != nil {
				logger.Error("runner: action %s failed: %v", j.id, err)
			}
			j.result <- err
		}
	}
}

// failQueued delivers ErrRunnerClosed to jobs still queued at shutdown so
// no waiter is left parked on its result channel.
func (r *Runner) failQueued() {
	for {
		select {
		case j := <-r.queue:
			j.result <- ErrRunnerClosed
		default:
			return
		}
	}
}

// execute runs one action body. Only the worker calls this.
func (r *Runner) execute(id string, isStreaming bool) error {
	state, ok := r.registry.state(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}

	// Aborted before start: the body must never run.
	if state.abortRequested() {
		r.registry.Update(id, statusPatch(StatusAborted))
		return nil
	}

	r.registry.Update(id, statusPatch(StatusRunning))

	// The action's abort signal cancels its execution context.
	ctx, cancel := context.WithCancel(r.ctx)
	stop := watchAbort(ctx, cancel, state.AbortSignal())
	defer stop()
	defer cancel()

	snap, _ := r.registry.Get(id)

	var execErr error
	switch snap.Type {
	case ActionTypeFile:
		r.executeFile(ctx, snap)

	case ActionTypeBuild:
		execErr = r.executeBuild(ctx, snap)

	case ActionTypeToolUse:
		execErr = r.executeToolUse(ctx, snap)

	default:
		if snap.Type.IsLegacy() {
			logger.Error("runner: action type %q is no longer supported; issue it as a tool call instead", snap.Type)
		} else {
			logger.Error("runner: unknown action type %q for action %s", snap.Type, id)
		}
	}

	if execErr != nil {
		errMsg := "action execution failed"
		r.registry.Update(id, StatePatch{Status: statusPtr(StatusFailed), Error: &errMsg})

		if cmdErr, ok := AsCommandError(execErr); ok {
			r.alert(Alert{
				Type:        AlertError,
				Title:       cmdErr.Header,
				Description: fmt.Sprintf("Action %s failed", id),
				Content:     cmdErr.Output,
				Source:      string(snap.Type),
			})
		}
		return execErr
	}

	// Streaming file updates keep the action live for further patches.
	if isStreaming {
		return nil
	}

	if state.abortRequested() {
		r.registry.Update(id, statusPatch(StatusAborted))
		return nil
	}

	r.registry.Update(id, statusPatch(StatusComplete))
	return nil
}

// executeFile writes the action content to the host. Errors are logged and
// swallowed: one bad file write must not abort the rest of the turn.
func (r *Runner) executeFile(ctx context.Context, snap Snapshot) {
	dir := filepath.Dir(snap.FilePath)
	if dir != "." && dir != "/" && dir != "" {
		if err := r.host.MkdirAll(ctx, dir); err != nil {
			logger.Error("runner: failed to create directory %s: %v", dir, err)
		}
	}

	if err := r.host.WriteFile(ctx, snap.FilePath, []byte(snap.Content)); err != nil {
		logger.Error("runner: failed to write %s: %v", snap.FilePath, err)
		return
	}

	logger.Debug("runner: wrote %s (%d bytes, edit=%v)", snap.FilePath, len(snap.Content), snap.IsEdit)
}

// executeBuild spawns the build command and buffers its combined output.
// A non-zero exit raises a CommandError carrying the full output.
func (r *Runner) executeBuild(ctx context.Context, snap Snapshot) error {
	proc, err := r.host.Spawn(ctx, r.build.Command, r.build.Args)
	if err != nil {
		return NewCommandError("Failed to start build", err.Error())
	}

	var output strings.Builder
	outputC := proc.Output()
	exitC := proc.Exit()

	for outputC != nil || exitC != nil {
		select {
		case chunk, ok := <-outputC:
			if !ok {
				outputC = nil
				continue
			}
			output.WriteString(chunk)

		case code, ok := <-exitC:
			if !ok {
				exitC = nil
				continue
			}
			// Drain the remaining output before judging the exit code. The
			// output channel may already have closed and been nil'd out.
			if outputC != nil {
				for chunk := range outputC {
					output.WriteString(chunk)
				}
			}
			outputC = nil
			exitC = nil

			if code != 0 {
				return NewCommandError(
					fmt.Sprintf("Build failed with exit code %d", code),
					output.String(),
				)
			}

		case <-ctx.Done():
			_ = proc.Kill()
			return NewCommandError("Build canceled", output.String())
		}
	}

	logger.Info("runner: build completed (%d bytes of output)", output.Len())
	return nil
}

// executeToolUse decodes the tool invocation, runs the named tool, and
// resolves the matching bridge entry so the waiting caller is released.
// Tool failures travel through the result channel; only unknown tools (or
// malformed payloads) also surface as chain-level errors.
func (r *Runner) executeToolUse(ctx context.Context, snap Snapshot) error {
	inv, err := parseInvocation(snap.Content)
	if err != nil {
		return err
	}

	switch inv.State {
	case InvocationResult:
		// Already resolved upstream; nothing to execute.
		return nil
	case InvocationPartial:
		return fmt.Errorf("tool call %s reached execution while still streaming", inv.ToolCallID)
	}

	result, dispatchErr := r.dispatcher.Dispatch(ctx, inv.ToolName, inv.Args)
	r.bridge.Resolve(inv.ToolCallID, result)

	if dispatchErr != nil {
		return fmt.Errorf("tool call %s (%s): %w", inv.ToolCallID, inv.ToolName, dispatchErr)
	}

	logger.Debug("runner: tool call %s (%s) resolved (ok=%v)", inv.ToolCallID, inv.ToolName, result.OK())
	return nil
}

func (r *Runner) alert(alert Alert) {
	if r.onAlert == nil {
		return
	}
	r.onAlert(alert)
}

func statusPtr(status ActionStatus) *ActionStatus {
	return &status
}

// watchAbort cancels the execution context when the abort signal fires.
// The returned stop function releases the watcher goroutine.
func watchAbort(ctx context.Context, cancel context.CancelFunc, abort <-chan struct{}) func() {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-abort:
			cancel()
		case <-ctx.Done():
		case <-stopped:
		}
	}()
	return func() { close(stopped) }
}
