package pool

import (
	"context"
	"sync"
	"time"
)

type task struct {
	name     string
	interval time.Duration
	fn       func()
}

// Scheduler runs named periodic tasks, each on its own ticker, until
// stopped. Stop is idempotent and waits for in-flight ticks to finish.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers a periodic task. Tasks added after Start are ignored until
// the next Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per registered task
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn()
		}
	}
}

// Stop halts all task tickers. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}
