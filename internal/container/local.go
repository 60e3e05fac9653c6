package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chefcode-ai/chefcode/internal/consts"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// LocalHost runs agent actions against a directory on the local machine.
// Directory listings are cached with a TTL and invalidated through fsnotify
// events, since the view tool tends to list the same directories repeatedly
// while the agent explores a project.
type LocalHost struct {
	baseDir string
	gate    *bootGate

	dirCache map[string]*dirCacheEntry
	cacheMu  sync.RWMutex
	cacheTTL time.Duration

	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	stopOnce  sync.Once
}

type dirCacheEntry struct {
	entries   []*FileInfo
	timestamp time.Time
}

// NewLocalHost creates a host rooted at baseDir. The host is not ready
// until Boot is called.
func NewLocalHost(baseDir string, cacheTTL time.Duration) *LocalHost {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("container: failed to create file watcher: %v", err)
	}

	h := &LocalHost{
		baseDir:   baseDir,
		gate:      newBootGate(),
		dirCache:  make(map[string]*dirCacheEntry),
		cacheTTL:  cacheTTL,
		watcher:   watcher,
		stopWatch: make(chan struct{}),
	}

	if watcher != nil {
		go h.watchFiles()
	}

	return h
}

// Boot verifies the base directory and marks the host ready
func (h *LocalHost) Boot(ctx context.Context) error {
	info, err := os.Stat(h.baseDir)
	if err != nil {
		h.gate.markFailed(err)
		return fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		err := fmt.Errorf("base path %s is not a directory", h.baseDir)
		h.gate.markFailed(err)
		return err
	}

	h.gate.markReady()
	logger.Info("container: local host ready at %s", h.baseDir)
	return nil
}

// WaitForReady blocks until Boot completed or ctx expires
func (h *LocalHost) WaitForReady(ctx context.Context) error {
	return h.gate.wait(ctx)
}

// BootState returns the current boot state
func (h *LocalHost) BootState() BootState {
	return h.gate.current()
}

// Close stops the filesystem watcher
func (h *LocalHost) Close() error {
	h.stopOnce.Do(func() {
		close(h.stopWatch)
	})
	if h.watcher != nil {
		return h.watcher.Close()
	}
	return nil
}

// watchFiles invalidates cached directory listings on filesystem events
func (h *LocalHost) watchFiles() {
	for {
		select {
		case <-h.stopWatch:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(event.Name)
			h.cacheMu.Lock()
			delete(h.dirCache, dir)
			h.cacheMu.Unlock()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("container: filesystem watcher error: %v", err)
		}
	}
}

// absPath resolves a host-relative path and rejects escapes from the base
// directory.
func (h *LocalHost) absPath(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if cleaned == "/" {
		return h.baseDir, nil
	}
	abs := filepath.Join(h.baseDir, cleaned)
	if !strings.HasPrefix(abs, filepath.Clean(h.baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes host root: %s", path)
	}
	return abs, nil
}

func (h *LocalHost) Mount(ctx context.Context, files map[string][]byte) error {
	for path, data := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.MkdirAll(ctx, filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := h.WriteFile(ctx, path, data); err != nil {
			return fmt.Errorf("failed to mount %s: %w", path, err)
		}
	}
	logger.Info("container: mounted snapshot with %d files", len(files))
	return nil
}

func (h *LocalHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	abs, err := h.absPath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (h *LocalHost) WriteFile(ctx context.Context, path string, data []byte) error {
	abs, err := h.absPath(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return err
	}
	h.invalidateDir(filepath.Dir(path))
	return nil
}

func (h *LocalHost) MkdirAll(ctx context.Context, path string) error {
	abs, err := h.absPath(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0755)
}

func (h *LocalHost) Exists(ctx context.Context, path string) (bool, error) {
	abs, err := h.absPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (h *LocalHost) ReadDir(ctx context.Context, path string) ([]*FileInfo, error) {
	h.cacheMu.RLock()
	if entry, ok := h.dirCache[path]; ok && time.Since(entry.timestamp) < h.cacheTTL {
		entries := entry.entries
		h.cacheMu.RUnlock()
		return entries, nil
	}
	h.cacheMu.RUnlock()

	abs, err := h.absPath(path)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	entries := make([]*FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, &FileInfo{
			Path:    filepath.Join(path, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}

	h.cacheMu.Lock()
	h.dirCache[path] = &dirCacheEntry{entries: entries, timestamp: time.Now()}
	h.cacheMu.Unlock()

	if h.watcher != nil {
		if err := h.watcher.Add(abs); err != nil {
			logger.Debug("container: failed to watch %s: %v", abs, err)
		}
	}

	return entries, nil
}

func (h *LocalHost) invalidateDir(path string) {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()
	delete(h.dirCache, path)
}

// Spawn starts a local process with its working directory set to the host
// root. Stdout and stderr are merged into a single chunk stream.
func (h *LocalHost) Spawn(ctx context.Context, command string, args []string) (Process, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = h.baseDir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	p := &localProcess{
		cmd:    cmd,
		output: make(chan string, consts.ProcessOutputChanSize),
		exit:   make(chan int, 1),
	}

	p.wg.Add(2)
	go p.readStream(stdout)
	go p.readStream(stderr)

	go func() {
		err := cmd.Wait()
		p.wg.Wait()
		close(p.output)

		code := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				logger.Error("container: command %s failed: %v", command, err)
				code = -1
			}
		}
		p.exit <- code
		close(p.exit)
	}()

	logger.Debug("container: spawned %s (pid=%d)", command, cmd.Process.Pid)
	return p, nil
}

type localProcess struct {
	cmd       *exec.Cmd
	output    chan string
	exit      chan int
	wg        sync.WaitGroup
	drainOnce sync.Once
}

func (p *localProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *localProcess) Output() <-chan string { return p.output }
func (p *localProcess) Exit() <-chan int      { return p.exit }

func (p *localProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()

	// Callers stop consuming output once they kill. The stream readers
	// park on the output channel when its buffer fills, which would keep
	// wg.Wait (and therefore the exit delivery) blocked forever; drain on
	// their behalf until the channel closes.
	p.drainOnce.Do(func() {
		go func() {
			for range p.output {
			}
		}()
	})

	return err
}

func (p *localProcess) readStream(reader io.Reader) {
	defer p.wg.Done()
	buf := make([]byte, consts.BufferSize4KB)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			p.output <- string(buf[:n])
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				logger.Debug("container: stream read error: %v", err)
			}
			return
		}
	}
}
