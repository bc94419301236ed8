// Package clock provides the monotonic time source and the timer context
// that drives periodic checks outside the polling loop.
package clock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the time source consumed by the rest of the core.
// Tests substitute *Mock.
type Clock = clock.Clock

// Mock is a manually advanced Clock.
type Mock = clock.Mock

// New returns the wall clock. time.Time values it returns carry a monotonic
// reading, so Sub/Since are immune to wall clock steps.
func New() Clock {
	return clock.New()
}

// NewMock returns a controllable clock for tests and headless simulation.
func NewMock() *Mock {
	return clock.NewMock()
}

// Service runs callbacks in its own goroutines, one per registered timer.
// Callbacks never run on the caller's goroutine.
type Service struct {
	clk   Clock
	start time.Time

	mu     sync.Mutex
	timers []*Periodic
}

// NewService creates a timer service on top of clk.
func NewService(clk Clock) *Service {
	return &Service{clk: clk, start: clk.Now()}
}

// Uptime returns the time elapsed since the service was created.
func (s *Service) Uptime() time.Duration {
	return s.clk.Since(s.start)
}

// Periodic is a registered repeating timer.
type Periodic struct {
	name   string
	ticker *clock.Ticker
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Every registers fn to run every period. The ticker is created before
// Every returns, so a mock clock advanced afterwards will fire it.
func (s *Service) Every(name string, period time.Duration, fn func()) *Periodic {
	p := &Periodic{
		name:   name,
		ticker: s.clk.Ticker(period),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.done:
				return
			case <-p.ticker.C:
				fn()
			}
		}
	}()

	s.mu.Lock()
	s.timers = append(s.timers, p)
	s.mu.Unlock()
	return p
}

// Stop halts the timer and waits for an in-flight callback to return.
func (p *Periodic) Stop() {
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.done)
	})
	p.wg.Wait()
}

// Name returns the label the timer was registered with.
func (p *Periodic) Name() string {
	return p.name
}

// Close stops every timer registered with the service.
func (s *Service) Close() {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, p := range timers {
		p.Stop()
	}
}
