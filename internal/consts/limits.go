package consts

import "time"

// Tool argument limits
const (
	// MaxEditTextLength is the maximum length of the old/new text arguments
	// accepted by the edit tool.
	MaxEditTextLength = 1024
	// MaxLinesPerView is the maximum number of lines returned by a single view call
	MaxLinesPerView = 2000
)

// Buffer sizes for various operations
const (
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Output handling
const (
	// TerminalThrottleInterval is the minimum delay between two published
	// terminal output snapshots during long-running tool calls.
	TerminalThrottleInterval = 50 * time.Millisecond
	// DefaultToolOutputTokenBudget caps the token count of sanitized tool
	// output returned to the agent loop.
	DefaultToolOutputTokenBudget = 4096
)

// Timeouts for various operations
const (
	// DefaultBootTimeout bounds the wait for the execution host to become ready
	DefaultBootTimeout = 60 * time.Second
	// DefaultSpawnExitTimeout bounds the wait for a spawned process after a kill
	DefaultSpawnExitTimeout = 10 * time.Second
	// ShutdownTimeout bounds graceful shutdown of the daemon
	ShutdownTimeout = 5 * time.Second
)

// Queue sizes
const (
	// ActionQueueSize is the buffer of the runner's serialized work queue
	ActionQueueSize = 256
	// ProcessOutputChanSize is the buffer of a spawned process output channel
	ProcessOutputChanSize = 64
)
