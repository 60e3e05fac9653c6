package container

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FileInfo represents file metadata inside the execution host
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Process is a handle to a process spawned inside the execution host.
//
// Output delivers combined stdout/stderr chunks and is closed once the
// process finishes. Exit delivers the exit code exactly once; a negative
// code means the process was killed or failed to run.
type Process interface {
	PID() int
	Output() <-chan string
	Exit() <-chan int
	Kill() error
}

// Host abstracts the sandboxed execution environment agent actions run
// against: a filesystem plus process spawning. Implementations must be safe
// for concurrent use.
type Host interface {
	// Mount seeds the host filesystem with a snapshot of files
	Mount(ctx context.Context, files map[string][]byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	MkdirAll(ctx context.Context, path string) error
	ReadDir(ctx context.Context, path string) ([]*FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Spawn starts a process inside the host
	Spawn(ctx context.Context, command string, args []string) (Process, error)
	// WaitForReady blocks until the host finished booting or ctx expires
	WaitForReady(ctx context.Context) error
}

// BootState describes the host boot lifecycle
type BootState int

const (
	// BootStateBooting means the host is still starting up
	BootStateBooting BootState = iota
	// BootStateReady means the host accepts commands
	BootStateReady
	// BootStateFailed means the host failed to boot
	BootStateFailed
)

// String returns the string representation of the boot state
func (s BootState) String() string {
	switch s {
	case BootStateBooting:
		return "booting"
	case BootStateReady:
		return "ready"
	case BootStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// bootGate is a one-shot condition install/deploy handlers block on before
// issuing commands. The transition out of booting happens exactly once.
type bootGate struct {
	mu    sync.Mutex
	state BootState
	err   error
	done  chan struct{}
}

func newBootGate() *bootGate {
	return &bootGate{
		state: BootStateBooting,
		done:  make(chan struct{}),
	}
}

func (g *bootGate) markReady() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != BootStateBooting {
		return
	}
	g.state = BootStateReady
	close(g.done)
}

func (g *bootGate) markFailed(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != BootStateBooting {
		return
	}
	g.state = BootStateFailed
	g.err = err
	close(g.done)
}

func (g *bootGate) current() BootState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *bootGate) wait(ctx context.Context) error {
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == BootStateFailed {
		if g.err != nil {
			return fmt.Errorf("execution host failed to boot: %w", g.err)
		}
		return fmt.Errorf("execution host failed to boot")
	}
	return nil
}
