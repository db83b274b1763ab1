package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs keyed one-shot jobs after a delay.
// Scheduling a key that is already pending replaces the earlier job.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*scheduledEntry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

type scheduledEntry struct {
	timer *time.Timer
	at    time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries: make(map[string]*scheduledEntry),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Schedule runs fn after delay under key. A non-positive delay fires immediately
// on the timer goroutine.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		s.logger.Warn("Scheduler stopped, dropping job", zap.String("key", key))
		return
	}

	if existing, ok := s.entries[key]; ok {
		if existing.timer.Stop() {
			s.wg.Done()
		}
		delete(s.entries, key)
	}

	if delay < 0 {
		delay = 0
	}

	entry := &scheduledEntry{at: time.Now().Add(delay)}
	s.wg.Add(1)
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(key, entry, fn)
	})
	s.entries[key] = entry

	s.logger.Debug("Job scheduled",
		zap.String("key", key),
		zap.Duration("delay", delay))
}

func (s *Scheduler) fire(key string, entry *scheduledEntry, fn func(ctx context.Context)) {
	defer s.wg.Done()

	s.mu.Lock()
	current, ok := s.entries[key]
	if !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	fn(s.ctx)
}

// Cancel removes a pending job. It reports whether the job was still pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	if entry.timer.Stop() {
		s.wg.Done()
		return true
	}
	// already firing; fire() sees the entry is gone and skips fn
	return true
}

// Pending returns the keys of jobs that have not fired yet, sorted
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stop cancels every pending job and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for key, entry := range s.entries {
		if entry.timer.Stop() {
			s.wg.Done()
		}
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
