package terminal

import (
	"strings"
	"sync"
	"time"
)

// Subscriber receives the full terminal snapshot after a publish
type Subscriber func(snapshot string)

// Store accumulates output of long-running tool calls and publishes it to
// subscribers at a bounded rate. Appends always land in the buffer
// immediately; only the notifications are coalesced, last write wins, so a
// burst of process output produces at most one publish per interval and the
// final publish always carries the complete snapshot.
type Store struct {
	mu          sync.Mutex
	buf         strings.Builder
	subscribers map[int]Subscriber
	nextSubID   int

	interval    time.Duration
	lastPublish time.Time
	timer       *time.Timer
}

// NewStore creates a store publishing at most once per interval
func NewStore(interval time.Duration) *Store {
	return &Store{
		subscribers: make(map[int]Subscriber),
		interval:    interval,
	}
}

// Subscribe registers a subscriber and returns an unsubscribe function
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Append adds output to the store and schedules a publish
func (s *Store) Append(text string) {
	if text == "" {
		return
	}

	s.mu.Lock()
	s.buf.WriteString(text)

	if time.Since(s.lastPublish) >= s.interval {
		s.publishLocked()
		s.mu.Unlock()
		return
	}

	// Within the throttle window: arm a trailing timer once, the snapshot
	// taken when it fires covers every append in between.
	if s.timer == nil {
		remaining := s.interval - time.Since(s.lastPublish)
		s.timer = time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.timer = nil
			s.publishLocked()
			s.mu.Unlock()
		})
	}
	s.mu.Unlock()
}

// Flush publishes the current snapshot immediately
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.publishLocked()
	s.mu.Unlock()
}

// Snapshot returns the accumulated output
func (s *Store) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Reset clears the accumulated output without notifying subscribers
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.buf.Reset()
}

func (s *Store) publishLocked() {
	s.lastPublish = time.Now()
	snapshot := s.buf.String()
	for _, fn := range s.subscribers {
		fn(snapshot)
	}
}
