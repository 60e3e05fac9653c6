package runner

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ActionType discriminates the kinds of actions the agent stream can emit.
// The legacy kinds are kept in the enum solely so their rejection at
// execution time is explicit rather than an unknown-type fallthrough.
type ActionType string

const (
	// ActionTypeFile writes literal content to a path in the host
	ActionTypeFile ActionType = "file"
	// ActionTypeToolUse invokes a named tool and answers its tool call
	ActionTypeToolUse ActionType = "toolUse"
	// ActionTypeBuild runs the configured build command
	ActionTypeBuild ActionType = "build"

	// Legacy action kinds. These were narrowed out of the action surface;
	// the same operations must now arrive as tool calls.
	ActionTypeShell      ActionType = "shell"
	ActionTypeNpmInstall ActionType = "npmInstall"
	ActionTypeExec       ActionType = "exec"
	ActionTypeStart      ActionType = "start"
	ActionTypeDeploy     ActionType = "deploy"
)

// IsLegacy reports whether the action kind was narrowed out of the surface
func (t ActionType) IsLegacy() bool {
	switch t {
	case ActionTypeShell, ActionTypeNpmInstall, ActionTypeExec, ActionTypeStart, ActionTypeDeploy:
		return true
	default:
		return false
	}
}

// Action is one unit of agent-directed work.
//
// For file actions FilePath carries the target and Content the literal file
// content. For toolUse actions Content carries the raw serialized tool
// invocation (see ToolInvocation); the same bytes double as the
// change-detection payload during streaming.
type Action struct {
	Type     ActionType `json:"type"`
	FilePath string     `json:"filePath,omitempty"`
	Content  string     `json:"content"`
}

// ActionEvent is one action-callback event from the (external) agent
// stream parser.
type ActionEvent struct {
	ActionID string `json:"actionId"`
	Action   Action `json:"action"`
}

// InvocationState tracks how far a tool invocation has streamed
type InvocationState string

const (
	// InvocationPartial means the tool arguments are still streaming
	InvocationPartial InvocationState = "partial-call"
	// InvocationCall means the invocation is fully formed and unexecuted
	InvocationCall InvocationState = "call"
	// InvocationResult means a result was already produced upstream
	InvocationResult InvocationState = "result"
)

// ToolInvocation is the decoded payload of a toolUse action
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      InvocationState `json:"state"`
	Args       json.RawMessage `json:"args"`
}

// parseInvocation decodes a toolUse action's content
func parseInvocation(content string) (*ToolInvocation, error) {
	var inv ToolInvocation
	if err := json.Unmarshal([]byte(content), &inv); err != nil {
		return nil, fmt.Errorf("malformed tool invocation payload: %w", err)
	}
	if inv.ToolCallID == "" {
		return nil, fmt.Errorf("tool invocation is missing a tool call id")
	}
	return &inv, nil
}

// ActionStatus is the lifecycle state of a registered action
type ActionStatus string

const (
	StatusPending  ActionStatus = "pending"
	StatusRunning  ActionStatus = "running"
	StatusComplete ActionStatus = "complete"
	StatusAborted  ActionStatus = "aborted"
	StatusFailed   ActionStatus = "failed"
)

// Terminal reports whether the status is a terminal one
func (s ActionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusAborted || s == StatusFailed
}

// ActionState wraps a registered action with its lifecycle bookkeeping.
// The registry owns all mutation; everything else observes snapshots.
type ActionState struct {
	ID       string
	Action   Action
	Status   ActionStatus
	Error    string
	Executed bool
	IsEdit   bool

	contentSig uint64

	abortOnce sync.Once
	abortChan chan struct{}
}

func newActionState(id string, action Action) *ActionState {
	return &ActionState{
		ID:         id,
		Action:     action,
		Status:     StatusPending,
		contentSig: contentSignature(action.Content),
		abortChan:  make(chan struct{}),
	}
}

// AbortSignal is closed when the action is aborted
func (s *ActionState) AbortSignal() <-chan struct{} {
	return s.abortChan
}

func (s *ActionState) signalAbort() {
	s.abortOnce.Do(func() {
		close(s.abortChan)
	})
}

func (s *ActionState) abortRequested() bool {
	select {
	case <-s.abortChan:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable view of an ActionState handed to subscribers
type Snapshot struct {
	ID       string       `json:"id"`
	Type     ActionType   `json:"type"`
	FilePath string       `json:"filePath,omitempty"`
	Content  string       `json:"content"`
	Status   ActionStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
	Executed bool         `json:"executed"`
	IsEdit   bool         `json:"isEdit,omitempty"`
}

func (s *ActionState) snapshot() Snapshot {
	return Snapshot{
		ID:       s.ID,
		Type:     s.Action.Type,
		FilePath: s.Action.FilePath,
		Content:  s.Action.Content,
		Status:   s.Status,
		Error:    s.Error,
		Executed: s.Executed,
		IsEdit:   s.IsEdit,
	}
}

// contentSignature hashes action content for streamed-update change
// detection, so identical redeliveries do not churn subscribers.
func contentSignature(content string) uint64 {
	return xxhash.Sum64String(content)
}
