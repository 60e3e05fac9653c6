package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chefcode-ai/chefcode/internal/container"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// BackgroundJob is a persistent process owned by the session, e.g. the dev
// server started after a successful deploy.
type BackgroundJob struct {
	ID        string
	Command   string
	Args      []string
	PID       int
	StartedAt time.Time

	process container.Process
}

// Session is the per-turn context object owning runner-adjacent state:
// modified-file tracking and background jobs. One session per chat turn;
// nothing here is shared between concurrent sessions.
type Session struct {
	id string

	mu            sync.RWMutex
	filesModified map[string]bool
	jobs          map[string]*BackgroundJob
}

// NewSession creates a session with a fresh id
func NewSession() *Session {
	return &Session{
		id:            uuid.NewString(),
		filesModified: make(map[string]bool),
		jobs:          make(map[string]*BackgroundJob),
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// TrackFileModified records that a file was written during this turn
func (s *Session) TrackFileModified(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesModified[path] = true
}

// ModifiedFiles returns the paths written during this turn
func (s *Session) ModifiedFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.filesModified))
	for path := range s.filesModified {
		out = append(out, path)
	}
	return out
}

// StartJob spawns a persistent process in the host and registers it under
// a session-scoped job id. The caller owns draining the process output.
func (s *Session) StartJob(ctx context.Context, host container.Host, command string, args []string) (*BackgroundJob, error) {
	proc, err := host.Spawn(ctx, command, args)
	if err != nil {
		return nil, fmt.Errorf("failed to start background job: %w", err)
	}

	job := &BackgroundJob{
		ID:        uuid.NewString(),
		Command:   command,
		Args:      args,
		PID:       proc.PID(),
		StartedAt: time.Now(),
		process:   proc,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	logger.Info("session %s: started background job %s (%s, pid=%d)", s.id, job.ID, command, job.PID)
	return job, nil
}

// Job returns a background job by id
func (s *Session) Job(id string) (*BackgroundJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Jobs returns all background jobs
func (s *Session) Jobs() []*BackgroundJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BackgroundJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

// Process returns the job's process handle
func (j *BackgroundJob) Process() container.Process {
	return j.process
}

// Close kills all background jobs
func (s *Session) Close() {
	s.mu.Lock()
	jobs := make([]*BackgroundJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobs = make(map[string]*BackgroundJob)
	s.mu.Unlock()

	for _, job := range jobs {
		if err := job.process.Kill(); err != nil {
			logger.Warn("session %s: failed to kill job %s: %v", s.id, job.ID, err)
		}
	}
}
