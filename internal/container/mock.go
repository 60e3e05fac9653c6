package container

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProcessScript describes how a mock process behaves when spawned
type ProcessScript struct {
	// Output chunks emitted before exiting
	Output []string
	// ExitCode delivered after all output was emitted
	ExitCode int
	// NeverExit keeps the process alive after emitting output until killed
	NeverExit bool
	// ChunkDelay inserts a pause between output chunks
	ChunkDelay time.Duration
}

// SpawnRecord captures one Spawn call for assertions
type SpawnRecord struct {
	Command string
	Args    []string
}

// MockHost is an in-memory execution host for tests
type MockHost struct {
	mu      sync.RWMutex
	files   map[string][]byte
	dirs    map[string]bool
	scripts map[string]*ProcessScript
	spawned []SpawnRecord
	gate    *bootGate

	writeLog []string
}

// NewMockHost creates a mock host. It boots in the ready state; use
// NewBootingMockHost when a test needs to control readiness.
func NewMockHost() *MockHost {
	h := NewBootingMockHost()
	h.SetReady()
	return h
}

// NewBootingMockHost creates a mock host that is still booting
func NewBootingMockHost() *MockHost {
	return &MockHost{
		files:   make(map[string][]byte),
		dirs:    map[string]bool{".": true},
		scripts: make(map[string]*ProcessScript),
		gate:    newBootGate(),
	}
}

// SetReady marks the host ready
func (h *MockHost) SetReady() {
	h.gate.markReady()
}

// FailBoot marks the host boot as failed
func (h *MockHost) FailBoot(err error) {
	h.gate.markFailed(err)
}

// WaitForReady blocks until the host is ready
func (h *MockHost) WaitForReady(ctx context.Context) error {
	return h.gate.wait(ctx)
}

// Script registers the behavior of processes spawned with the given command
func (h *MockHost) Script(command string, script *ProcessScript) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts[command] = script
}

// SpawnCount returns how many times the given command was spawned
func (h *MockHost) SpawnCount(command string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, rec := range h.spawned {
		if rec.Command == command {
			count++
		}
	}
	return count
}

// Spawns returns all recorded spawn calls
func (h *MockHost) Spawns() []SpawnRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SpawnRecord, len(h.spawned))
	copy(out, h.spawned)
	return out
}

// WriteLog returns the paths written so far, in write order
func (h *MockHost) WriteLog() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.writeLog))
	copy(out, h.writeLog)
	return out
}

func (h *MockHost) Mount(ctx context.Context, files map[string][]byte) error {
	for path, data := range files {
		if err := h.WriteFile(ctx, path, data); err != nil {
			return err
		}
	}
	return nil
}

func (h *MockHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.files[normalizeMockPath(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (h *MockHost) WriteFile(ctx context.Context, path string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	path = normalizeMockPath(path)
	h.files[path] = data
	h.writeLog = append(h.writeLog, path)

	dir := filepath.Dir(path)
	for dir != "." && dir != "/" && dir != "" {
		h.dirs[dir] = true
		dir = filepath.Dir(dir)
	}
	return nil
}

func (h *MockHost) MkdirAll(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	path = normalizeMockPath(path)
	dir := path
	for dir != "." && dir != "/" && dir != "" {
		h.dirs[dir] = true
		dir = filepath.Dir(dir)
	}
	return nil
}

func (h *MockHost) Exists(ctx context.Context, path string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	path = normalizeMockPath(path)
	if _, ok := h.files[path]; ok {
		return true, nil
	}
	return h.dirs[path], nil
}

func (h *MockHost) ReadDir(ctx context.Context, path string) ([]*FileInfo, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	path = normalizeMockPath(path)
	if !h.dirs[path] {
		return nil, os.ErrNotExist
	}

	prefix := ""
	if path != "." {
		prefix = path + "/"
	}

	seen := make(map[string]bool)
	var entries []*FileInfo

	for filePath, data := range h.files {
		if prefix != "" && !strings.HasPrefix(filePath, prefix) {
			continue
		}
		rel := strings.TrimPrefix(filePath, prefix)
		if idx := strings.Index(rel, "/"); idx >= 0 {
			subdir := prefix + rel[:idx]
			if !seen[subdir] {
				seen[subdir] = true
				entries = append(entries, &FileInfo{Path: subdir, IsDir: true, ModTime: time.Now()})
			}
			continue
		}
		if !seen[filePath] {
			seen[filePath] = true
			entries = append(entries, &FileInfo{
				Path:    filePath,
				Size:    int64(len(data)),
				ModTime: time.Now(),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (h *MockHost) Spawn(ctx context.Context, command string, args []string) (Process, error) {
	h.mu.Lock()
	h.spawned = append(h.spawned, SpawnRecord{Command: command, Args: args})
	script := h.scripts[command]
	h.mu.Unlock()

	if script == nil {
		script = &ProcessScript{}
	}

	p := &mockProcess{
		output: make(chan string, len(script.Output)+1),
		exit:   make(chan int, 1),
		killed: make(chan struct{}),
	}

	go func() {
		for _, chunk := range script.Output {
			if script.ChunkDelay > 0 {
				time.Sleep(script.ChunkDelay)
			}
			select {
			case p.output <- chunk:
			case <-p.killed:
				close(p.output)
				p.exit <- -1
				close(p.exit)
				return
			}
		}

		if script.NeverExit {
			<-p.killed
			close(p.output)
			p.exit <- -1
			close(p.exit)
			return
		}

		close(p.output)
		p.exit <- script.ExitCode
		close(p.exit)
	}()

	return p, nil
}

type mockProcess struct {
	output   chan string
	exit     chan int
	killed   chan struct{}
	killOnce sync.Once
}

func (p *mockProcess) PID() int              { return 4242 }
func (p *mockProcess) Output() <-chan string { return p.output }
func (p *mockProcess) Exit() <-chan int      { return p.exit }

func (p *mockProcess) Kill() error {
	p.killOnce.Do(func() {
		close(p.killed)
	})
	return nil
}

func normalizeMockPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "."
	}
	return filepath.Clean(path)
}
