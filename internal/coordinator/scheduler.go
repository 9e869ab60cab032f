package coordinator

import (
	"context"
	"sync"
	"time"
)

// Scheduler is the time-wheel thread §5 describes: it injects each GC
// pass at its own independent interval so MC_GEN_0's frequent sweep
// never waits on VERSIONS' slower one (§4.E.3).
type Scheduler struct {
	c        *Coordinator
	windows  map[GCPass]time.Duration
	periods  map[GCPass]time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler builds a Scheduler over c using windows for each pass's
// age/idle threshold, falling back to GCPass.SuggestedPeriod() for any
// pass whose firing period isn't overridden in periods (nil accepted).
func NewScheduler(c *Coordinator, windows map[GCPass]time.Duration, periods map[GCPass]time.Duration) *Scheduler {
	return &Scheduler{c: c, windows: windows, periods: periods, stopChan: make(chan struct{})}
}

func (s *Scheduler) period(p GCPass) time.Duration {
	if s.periods != nil {
		if d, ok := s.periods[p]; ok && d > 0 {
			return d
		}
	}
	return p.SuggestedPeriod()
}

func (s *Scheduler) window(p GCPass) time.Duration {
	if s.windows != nil {
		if d, ok := s.windows[p]; ok {
			return d
		}
	}
	return p.SuggestedPeriod()
}

var allPasses = []GCPass{PassMCGen0, PassMCGen1, PassMCGen2, PassDeadPointers, PassNamespaces, PassVersions}

// Start launches one ticking goroutine per pass; Stop (or ctx
// cancellation) tears them all down.
func (s *Scheduler) Start(ctx context.Context) {
	for _, pass := range allPasses {
		s.wg.Add(1)
		go s.run(ctx, pass)
	}
}

func (s *Scheduler) run(ctx context.Context, pass GCPass) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.period(pass))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.c.RunGC(pass, s.window(pass))
		}
	}
}

// Stop signals every pass goroutine to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
