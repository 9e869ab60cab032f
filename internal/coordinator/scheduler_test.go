package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_StartStopTearsDownCleanly(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	periods := make(map[GCPass]time.Duration, len(allPasses))
	for _, p := range allPasses {
		periods[p] = time.Millisecond
	}
	s := NewScheduler(c, nil, periods)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(5 * time.Millisecond) // let a few ticks fire on every pass

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return: a pass goroutine leaked")
	}
}

func TestScheduler_ContextCancelStopsGoroutines(t *testing.T) {
	c, fs := newTestCoordinator(t, "/ns1")
	writeFile(t, fs, "/ns1/app.yaml", "a: 1\n")
	require.NoError(t, c.Bootstrap())

	s := NewScheduler(c, nil, nil) // default §4.E.3 periods, all well over this test's lifetime
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelling ctx did not stop every pass goroutine")
	}
}
