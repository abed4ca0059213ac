package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessEventsSyncDrainsDueEvents(t *testing.T) {
	s := New()
	var fired []string
	var mu sync.Mutex

	base := time.Now()
	s.ScheduleAt(base.Add(-time.Second), func() {
		mu.Lock()
		fired = append(fired, "past")
		mu.Unlock()
	})
	s.Schedule(0, func() {
		mu.Lock()
		fired = append(fired, "now")
		mu.Unlock()
	})
	s.ScheduleAt(base.Add(time.Hour), func() {
		mu.Lock()
		fired = append(fired, "future")
		mu.Unlock()
	})

	s.ProcessEventsSync(time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"past", "now"}, fired)
	require.Equal(t, 1, s.Len())
}

func TestProcessEventsSyncOrdersByFireTime(t *testing.T) {
	s := New()
	var order []int
	var mu sync.Mutex
	record := func(n int) Action {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	now := time.Now()
	s.ScheduleAt(now.Add(30*time.Millisecond), record(3))
	s.ScheduleAt(now.Add(10*time.Millisecond), record(1))
	s.ScheduleAt(now.Add(20*time.Millisecond), record(2))

	s.ProcessEventsSync(now.Add(time.Hour))

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestPurgeClearsQueueWithoutFiring(t *testing.T) {
	s := New()
	fired := false
	s.Schedule(0, func() { fired = true })
	s.Purge()
	require.Equal(t, 0, s.Len())

	s.ProcessEventsSync(time.Now().Add(time.Hour))
	require.False(t, fired)
}

func TestProcessEventsAsyncFiresAndTerminatesWithoutKeepAlive(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 1)
	s.Schedule(10*time.Millisecond, func() { fired <- struct{}{} })

	s.ProcessEventsAsync(context.Background(), time.Now(), false)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}

	require.NoError(t, s.WaitForCompletion(time.Second))
}

func TestProcessEventsAsyncWakesEarlyForNewlyScheduledEvent(t *testing.T) {
	s := New()
	fired := make(chan string, 2)

	s.ScheduleAt(time.Now().Add(time.Hour), func() { fired <- "late" })
	s.ProcessEventsAsync(context.Background(), time.Now(), true)

	s.Schedule(5*time.Millisecond, func() { fired <- "early" })

	select {
	case name := <-fired:
		require.Equal(t, "early", name)
	case <-time.After(time.Second):
		t.Fatal("early action never fired")
	}

	s.Shutdown()
	require.NoError(t, s.WaitForCompletion(time.Second))
}

func TestWaitForCompletionTimesOutWhileKeptAlive(t *testing.T) {
	s := New()
	s.ProcessEventsAsync(context.Background(), time.Now(), true)
	defer s.Shutdown()

	err := s.WaitForCompletion(20 * time.Millisecond)
	require.Error(t, err)
}

func TestShutdownStopsAsyncWorker(t *testing.T) {
	s := New()
	s.ProcessEventsAsync(context.Background(), time.Now(), true)
	s.Shutdown()
	require.NoError(t, s.WaitForCompletion(time.Second))
}
