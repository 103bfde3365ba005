// Package retention runs the periodic cleanup pass: expired screen
// states leave the index, expired raw frames leave the archive, and the
// store compacts once a day to give the space back.
package retention

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agenthands/prism/internal/config"
)

// Index is the slice of the semantic index the scheduler drives.
type Index interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Compact(ctx context.Context) error
}

// Pruner removes aged files; the frame archive implements it.
type Pruner interface {
	Prune(olderThan time.Duration) (int, error)
}

type Scheduler struct {
	index   Index
	archive Pruner // optional
	cfg     config.RetentionConfig

	mu          sync.Mutex
	running     bool
	lastCompact time.Time
	stopCh      chan struct{}
	done        chan struct{}
}

func NewScheduler(idx Index, archive Pruner, cfg config.RetentionConfig) *Scheduler {
	return &Scheduler{index: idx, archive: archive, cfg: cfg}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.lastCompact = time.Now()
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	interval := time.Duration(s.cfg.SweepIntervalMinutes) * time.Minute
	go s.run(interval, s.stopCh, s.done)
	log.Printf("retention: sweeping every %s, element ttl %dh, frame ttl %dh",
		interval, s.cfg.ElementTTLHours, s.cfg.FrameTTLHours)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one cleanup pass. Failures are logged and retried on the
// next sweep; a missed pass only delays reclamation.
func (s *Scheduler) Sweep(ctx context.Context) {
	elementTTL := time.Duration(s.cfg.ElementTTLHours) * time.Hour
	deleted, err := s.index.Cleanup(ctx, elementTTL)
	if err != nil {
		log.Printf("retention: cleanup failed: %v", err)
	} else if deleted > 0 {
		log.Printf("retention: removed %d screen states older than %s", deleted, elementTTL)
	}

	if s.archive != nil {
		frameTTL := time.Duration(s.cfg.FrameTTLHours) * time.Hour
		pruned, err := s.archive.Prune(frameTTL)
		if err != nil {
			log.Printf("retention: frame prune failed: %v", err)
		} else if pruned > 0 {
			log.Printf("retention: pruned %d archived frames older than %s", pruned, frameTTL)
		}
	}

	if s.compactDue() {
		if err := s.index.Compact(ctx); err != nil {
			log.Printf("retention: compact failed: %v", err)
		} else {
			log.Printf("retention: store compacted")
		}
	}
}

func (s *Scheduler) compactDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	every := time.Duration(s.cfg.CompactIntervalHours) * time.Hour
	if every <= 0 {
		return false
	}
	if time.Since(s.lastCompact) < every {
		return false
	}
	s.lastCompact = time.Now()
	return true
}
