package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
)

func TestMonitorDeliversEachIDOnce(t *testing.T) {
	var polls atomic.Int32
	poll := func(ctx context.Context) ([]models.Message, error) {
		polls.Add(1)
		return []models.Message{{ID: "a"}, {ID: "b"}, {ID: "a"}}, nil
	}
	m := NewMonitor(models.ProviderMicrosoft, "acc-1", poll, nil,
		WithPollInterval(5*time.Millisecond), WithPollJitter(0))

	var mu sync.Mutex
	got := map[string]int{}
	m.Subscribe(func(ctx context.Context, msg models.Message) {
		mu.Lock()
		got[msg.ID]++
		mu.Unlock()
	})

	m.Start(context.Background())
	m.Start(context.Background()) // no-op
	deadline := time.Now().Add(2 * time.Second)
	for polls.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 1 || got["b"] != 1 || len(got) != 2 {
		t.Fatalf("deliveries = %v, want each id once", got)
	}
}

func TestMonitorPrimedIDsAreNotDelivered(t *testing.T) {
	poll := func(ctx context.Context) ([]models.Message, error) {
		return []models.Message{{ID: "old"}, {ID: "new"}}, nil
	}
	m := NewMonitor(models.ProviderGoogle, "acc-1", poll, nil,
		WithPollInterval(time.Hour), WithPollJitter(0))
	m.MarkSeen("old")

	delivered := make(chan string, 4)
	m.Subscribe(func(ctx context.Context, msg models.Message) { delivered <- msg.ID })
	m.Start(context.Background())
	defer m.Stop()

	select {
	case id := <-delivered:
		if id != "new" {
			t.Fatalf("delivered %q, want new", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
	select {
	case id := <-delivered:
		t.Fatalf("unexpected second delivery %q", id)
	case <-time.After(20 * time.Millisecond):
	}
}

// A poll in flight when Stop is called must not deliver, and Stop must wait for it.
func TestMonitorStopIsTerminal(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	poll := func(ctx context.Context) ([]models.Message, error) {
		once.Do(func() { close(entered) })
		<-release
		return []models.Message{{ID: "late"}}, nil
	}
	m := NewMonitor(models.ProviderGoogle, "acc-1", poll, nil,
		WithPollInterval(time.Millisecond), WithPollJitter(0))

	var fired atomic.Int32
	m.Subscribe(func(ctx context.Context, msg models.Message) { fired.Add(1) })
	m.Start(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a poll was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	if n := fired.Load(); n != 0 {
		t.Fatalf("callback fired %d times after stop", n)
	}

	m.Stop() // idempotent
	if m.Running() {
		t.Fatal("monitor still running")
	}
}

func TestMonitorRecoversFromCallbackPanic(t *testing.T) {
	poll := func(ctx context.Context) ([]models.Message, error) {
		return []models.Message{{ID: "x"}}, nil
	}
	m := NewMonitor(models.ProviderGoogle, "acc-1", poll, nil,
		WithPollInterval(time.Hour), WithPollJitter(0))

	got := make(chan string, 1)
	m.Subscribe(func(ctx context.Context, msg models.Message) { panic("boom") })
	m.Subscribe(func(ctx context.Context, msg models.Message) { got <- msg.ID })
	m.Start(context.Background())
	defer m.Stop()

	select {
	case id := <-got:
		if id != "x" {
			t.Fatalf("got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second subscriber was not called")
	}
}

func TestMonitorSeenCacheIsBounded(t *testing.T) {
	m := NewMonitor(models.ProviderGoogle, "acc-1", nil, nil, WithSeenLimit(3))
	m.MarkSeen("a", "b", "c", "d")
	if n := m.SeenCount(); n != 3 {
		t.Fatalf("seen = %d, want 3", n)
	}
	if !m.markNew("a") {
		t.Fatal("oldest id should have been forgotten")
	}
	if m.markNew("d") {
		t.Fatal("recent id delivered twice")
	}
	if n := m.SeenCount(); n != 3 {
		t.Fatalf("seen after insert = %d, want 3", n)
	}
}
