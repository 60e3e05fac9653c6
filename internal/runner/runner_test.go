package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chefcode-ai/chefcode/internal/bridge"
	"github.com/chefcode-ai/chefcode/internal/container"
)

// fakeDispatcher records tool dispatches and returns a scripted outcome
type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []string
	result bridge.Result
	err    error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, toolName string, args json.RawMessage) (bridge.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, toolName)
	return d.result, d.err
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type testRig struct {
	host       *container.MockHost
	registry   *Registry
	bridge     *bridge.Bridge
	dispatcher *fakeDispatcher
	runner     *Runner

	alertMu sync.Mutex
	alerts  []Alert
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	rig := &testRig{
		host:       container.NewMockHost(),
		bridge:     bridge.New(),
		dispatcher: &fakeDispatcher{result: bridge.OK("ok")},
	}
	rig.registry = NewRegistry(rig.host)
	rig.runner = New(Options{
		Host:       rig.host,
		Registry:   rig.registry,
		Bridge:     rig.bridge,
		Dispatcher: rig.dispatcher,
		Build:      BuildCommand{Command: "npm", Args: []string{"run", "build"}},
		OnAlert: func(alert Alert) {
			rig.alertMu.Lock()
			defer rig.alertMu.Unlock()
			rig.alerts = append(rig.alerts, alert)
		},
	})
	t.Cleanup(rig.runner.Close)

	return rig
}

func (rig *testRig) allAlerts() []Alert {
	rig.alertMu.Lock()
	defer rig.alertMu.Unlock()
	out := make([]Alert, len(rig.alerts))
	copy(out, rig.alerts)
	return out
}

func buildEvent(id string) ActionEvent {
	return ActionEvent{ActionID: id, Action: Action{Type: ActionTypeBuild}}
}

func toolUseEvent(id, toolCallID, toolName, state string) ActionEvent {
	content := fmt.Sprintf(`{"toolCallId":%q,"toolName":%q,"state":%q,"args":{}}`,
		toolCallID, toolName, state)
	return ActionEvent{ActionID: id, Action: Action{Type: ActionTypeToolUse, Content: content}}
}

func TestRunUnregisteredActionFails(t *testing.T) {
	rig := newTestRig(t)

	err := rig.runner.RunAction(context.Background(), fileEvent("ghost", "a.ts", "x"), false)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestFileActionWritesAndCompletes(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := fileEvent("f1", "src/App.tsx", "export default function App() {}")
	rig.runner.AddAction(ctx, event)
	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("RunAction failed: %v", err)
	}

	data, err := rig.host.ReadFile(ctx, "src/App.tsx")
	if err != nil {
		t.Fatalf("file was not written: %v", err)
	}
	if string(data) != "export default function App() {}" {
		t.Errorf("content mismatch: %q", data)
	}

	snap, _ := rig.registry.Get("f1")
	if snap.Status != StatusComplete {
		t.Errorf("expected complete, got %s", snap.Status)
	}
	if !snap.Executed {
		t.Error("finalized action should be marked executed")
	}
}

func TestExecutedActionIsNotRerun(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := fileEvent("f1", "src/App.tsx", "v1")
	rig.runner.AddAction(ctx, event)
	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The stream may redeliver a finalized action; it must not run again.
	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("redelivery should be a silent no-op, got %v", err)
	}

	if writes := rig.host.WriteLog(); len(writes) != 1 {
		t.Errorf("expected exactly one write, got %d: %v", len(writes), writes)
	}
}

func TestStreamingFileActionStaysLive(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	log := &snapshotLog{}
	defer rig.registry.Subscribe(log.record)()

	// Partial content streams in and is written, but the action stays open.
	partial := fileEvent("f1", "src/App.tsx", "export")
	rig.runner.AddAction(ctx, partial)
	if err := rig.runner.RunAction(ctx, partial, true); err != nil {
		t.Fatalf("streaming run failed: %v", err)
	}

	snap, _ := rig.registry.Get("f1")
	if snap.Executed {
		t.Error("streaming update must not mark the action executed")
	}
	if snap.Status.Terminal() {
		t.Errorf("streaming update must not finalize the action, got %s", snap.Status)
	}

	// The close event finalizes with the full content.
	final := fileEvent("f1", "src/App.tsx", "export default {}")
	rig.runner.AddAction(ctx, final)
	if err := rig.runner.RunAction(ctx, final, false); err != nil {
		t.Fatalf("final run failed: %v", err)
	}

	data, _ := rig.host.ReadFile(ctx, "src/App.tsx")
	if string(data) != "export default {}" {
		t.Errorf("final content mismatch: %q", data)
	}
	if got := log.countStatus("f1", StatusComplete); got != 1 {
		t.Errorf("expected exactly one complete transition, got %d", got)
	}
}

func TestStreamingNonFileActionIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := toolUseEvent("t1", "call-1", "view", "partial-call")
	rig.runner.AddAction(ctx, event)
	if err := rig.runner.RunAction(ctx, event, true); err != nil {
		t.Fatalf("streaming toolUse should be a no-op, got %v", err)
	}

	if rig.dispatcher.callCount() != 0 {
		t.Error("partial tool arguments must never be dispatched")
	}
	snap, _ := rig.registry.Get("t1")
	if snap.Status != StatusPending {
		t.Errorf("expected pending, got %s", snap.Status)
	}
}

func TestExecutionIsSerialized(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.host.Script("npm", &container.ProcessScript{
		Output:     []string{"building...\n", "done\n"},
		ChunkDelay: 20 * time.Millisecond,
	})

	log := &snapshotLog{}
	defer rig.registry.Subscribe(log.record)()

	build := buildEvent("b1")
	file := fileEvent("f1", "src/App.tsx", "x")
	rig.runner.AddAction(ctx, build)
	rig.runner.AddAction(ctx, file)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := rig.runner.RunAction(ctx, build, false); err != nil {
			t.Errorf("build failed: %v", err)
		}
	}()
	// Let the build enter the queue first.
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		if err := rig.runner.RunAction(ctx, file, false); err != nil {
			t.Errorf("file action failed: %v", err)
		}
	}()
	wg.Wait()

	// The slow build must fully complete before the file action starts.
	buildDone, fileStarted := -1, -1
	for i, snap := range log.all() {
		if snap.ID == "b1" && snap.Status == StatusComplete && buildDone == -1 {
			buildDone = i
		}
		if snap.ID == "f1" && snap.Status == StatusRunning && fileStarted == -1 {
			fileStarted = i
		}
	}
	if buildDone == -1 || fileStarted == -1 {
		t.Fatalf("missing transitions (buildDone=%d, fileStarted=%d)", buildDone, fileStarted)
	}
	if buildDone > fileStarted {
		t.Error("file action started before the build finished")
	}
}

func TestAbortBeforeStartSkipsBody(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := buildEvent("b1")
	rig.runner.AddAction(ctx, event)
	rig.runner.Abort("b1")

	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("running an aborted action should not fail, got %v", err)
	}

	if rig.host.SpawnCount("npm") != 0 {
		t.Error("aborted action must never spawn its command")
	}
	snap, _ := rig.registry.Get("b1")
	if snap.Status != StatusAborted {
		t.Errorf("expected aborted, got %s", snap.Status)
	}
}

func TestBuildFailureRaisesAlert(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.host.Script("npm", &container.ProcessScript{
		Output:   []string{"src/App.tsx: type error\n"},
		ExitCode: 2,
	})

	event := buildEvent("b1")
	rig.runner.AddAction(ctx, event)

	err := rig.runner.RunAction(ctx, event, false)
	if err == nil {
		t.Fatal("failed build should return an error")
	}

	snap, _ := rig.registry.Get("b1")
	if snap.Status != StatusFailed {
		t.Errorf("expected failed, got %s", snap.Status)
	}
	if snap.Error != "action execution failed" {
		t.Errorf("unexpected error message: %q", snap.Error)
	}

	alerts := rig.allAlerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Type != AlertError {
		t.Errorf("expected error alert, got %s", alerts[0].Type)
	}
	if alerts[0].Content != "src/App.tsx: type error\n" {
		t.Errorf("alert should carry the build output, got %q", alerts[0].Content)
	}
}

func TestFailedActionDoesNotStallQueue(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.host.Script("npm", &container.ProcessScript{ExitCode: 1})

	bad := buildEvent("b1")
	good := fileEvent("f1", "src/App.tsx", "x")
	rig.runner.AddAction(ctx, bad)
	rig.runner.AddAction(ctx, good)

	if err := rig.runner.RunAction(ctx, bad, false); err == nil {
		t.Fatal("failed build should return an error")
	}
	if err := rig.runner.RunAction(ctx, good, false); err != nil {
		t.Fatalf("queue should keep moving after a failure, got %v", err)
	}

	snap, _ := rig.registry.Get("f1")
	if snap.Status != StatusComplete {
		t.Errorf("expected complete, got %s", snap.Status)
	}
}

func TestLegacyActionTypeRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := ActionEvent{ActionID: "old-1", Action: Action{Type: ActionTypeNpmInstall, Content: "lodash"}}
	rig.runner.AddAction(ctx, event)

	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("legacy rejection is log-only, got %v", err)
	}

	if got := len(rig.host.Spawns()); got != 0 {
		t.Errorf("legacy action must never spawn anything, got %d spawns", got)
	}
}

func TestToolUseDispatchesAndResolvesBridge(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.dispatcher.result = bridge.OK("file contents here")

	event := toolUseEvent("t1", "call-42", "view", "call")
	rig.runner.AddAction(ctx, event)
	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("RunAction failed: %v", err)
	}

	if rig.dispatcher.callCount() != 1 {
		t.Fatalf("expected one dispatch, got %d", rig.dispatcher.callCount())
	}

	wire, err := rig.bridge.Await(ctx, "call-42")
	if err != nil {
		t.Fatalf("bridge await failed: %v", err)
	}
	if wire != "file contents here" {
		t.Errorf("wire mismatch: %q", wire)
	}

	snap, _ := rig.registry.Get("t1")
	if snap.Status != StatusComplete {
		t.Errorf("expected complete, got %s", snap.Status)
	}
}

func TestToolUseFailureStillResolvesBridge(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.dispatcher.result = bridge.Err("unknown tool: bogus")
	rig.dispatcher.err = errors.New("unknown tool: bogus")

	event := toolUseEvent("t1", "call-7", "bogus", "call")
	rig.runner.AddAction(ctx, event)

	if err := rig.runner.RunAction(ctx, event, false); err == nil {
		t.Fatal("unknown tool should surface as a chain-level error")
	}

	// The waiting caller must still be released, with the failure wire.
	wire, err := rig.bridge.Await(ctx, "call-7")
	if err != nil {
		t.Fatalf("bridge await failed: %v", err)
	}
	if wire != "Error: unknown tool: bogus" {
		t.Errorf("wire mismatch: %q", wire)
	}

	snap, _ := rig.registry.Get("t1")
	if snap.Status != StatusFailed {
		t.Errorf("expected failed, got %s", snap.Status)
	}
}

func TestToolUseWithUpstreamResultIsSkipped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := toolUseEvent("t1", "call-1", "view", "result")
	rig.runner.AddAction(ctx, event)
	if err := rig.runner.RunAction(ctx, event, false); err != nil {
		t.Fatalf("RunAction failed: %v", err)
	}

	if rig.dispatcher.callCount() != 0 {
		t.Error("already-resolved invocations must not be dispatched again")
	}
}

func TestMalformedToolInvocationFails(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := ActionEvent{ActionID: "t1", Action: Action{Type: ActionTypeToolUse, Content: "not json"}}
	rig.runner.AddAction(ctx, event)

	if err := rig.runner.RunAction(ctx, event, false); err == nil {
		t.Fatal("malformed invocation payload should fail the action")
	}

	snap, _ := rig.registry.Get("t1")
	if snap.Status != StatusFailed {
		t.Errorf("expected failed, got %s", snap.Status)
	}
}

func TestBuildCompletesAcrossOutputExitOrderings(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.host.Script("npm", &container.ProcessScript{
		Output:   []string{"compiled 1 module\n"},
		ExitCode: 0,
	})

	// Output close and exit delivery race inside the build select loop;
	// repeat enough times to hit both orderings.
	for i := 0; i < 50; i++ {
		event := buildEvent(fmt.Sprintf("b%d", i))
		rig.runner.AddAction(ctx, event)

		done := make(chan error, 1)
		go func() {
			done <- rig.runner.RunAction(ctx, event, false)
		}()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("iteration %d: build failed: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: build never finished; worker is stuck", i)
		}

		snap, _ := rig.registry.Get(event.ActionID)
		if snap.Status != StatusComplete {
			t.Fatalf("iteration %d: expected complete, got %s", i, snap.Status)
		}
	}
}

func TestConcurrentRedeliveryDispatchesOnce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	event := toolUseEvent("t1", "call-1", "view", "call")
	rig.runner.AddAction(ctx, event)

	// All deliveries pass the gate at once; exactly one may execute.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := rig.runner.RunAction(ctx, event, false); err != nil {
				t.Errorf("RunAction failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := rig.dispatcher.callCount(); got != 1 {
		t.Errorf("expected exactly one dispatch across concurrent redeliveries, got %d", got)
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// The running build never exits on its own; only the shutdown cancel
	// can finish it. A second build sits queued behind it.
	rig.host.Script("npm", &container.ProcessScript{
		Output:    []string{"building...\n"},
		NeverExit: true,
	})

	first := buildEvent("b1")
	second := buildEvent("b2")
	rig.runner.AddAction(ctx, first)
	rig.runner.AddAction(ctx, second)

	results := make(chan error, 2)
	go func() { results <- rig.runner.RunAction(ctx, first, false) }()
	time.Sleep(20 * time.Millisecond)
	go func() { results <- rig.runner.RunAction(ctx, second, false) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		rig.runner.Close()
		close(closed)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("a waiter is still parked after Close")
		}
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
