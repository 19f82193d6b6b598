package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dynaudio-go-home/internal/transport"
)

type fakeTarget struct {
	id  string
	err error

	mu    sync.Mutex
	calls int
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Poll(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceOf(targets ...Target) Source {
	return func() []Target { return targets }
}

func TestPollOnce(t *testing.T) {
	a := &fakeTarget{id: "a"}
	b := &fakeTarget{id: "b", err: transport.ErrTransport}
	c := &fakeTarget{id: "c", err: transport.ErrRefused}
	p := New(Config{Interval: time.Second}, sourceOf(a, b, c), testLogger())

	results := p.PollOnce(context.Background())
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ID != "a" || results[0].Err != nil {
		t.Errorf("a: %+v", results[0])
	}
	if !errors.Is(results[1].Err, transport.ErrTransport) {
		t.Errorf("b: %+v", results[1])
	}
	if !errors.Is(results[2].Err, transport.ErrRefused) {
		t.Errorf("c: %+v", results[2])
	}
}

func TestPollOnceStopsOnCancel(t *testing.T) {
	a := &fakeTarget{id: "a"}
	p := New(Config{Interval: time.Second}, sourceOf(a), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if results := p.PollOnce(ctx); len(results) != 0 {
		t.Errorf("polled after cancel: %v", results)
	}
}

func TestPollTimeoutApplied(t *testing.T) {
	var deadline bool
	target := &deadlineTarget{seen: &deadline}
	p := New(Config{Interval: time.Second, Timeout: 50 * time.Millisecond}, sourceOf(target), testLogger())
	p.PollOnce(context.Background())
	if !deadline {
		t.Error("poll context had no deadline")
	}
}

type deadlineTarget struct{ seen *bool }

func (d *deadlineTarget) ID() string { return "d" }

func (d *deadlineTarget) Poll(ctx context.Context) error {
	_, *d.seen = ctx.Deadline()
	return nil
}

func TestRunTicks(t *testing.T) {
	a := &fakeTarget{id: "a"}
	p := New(Config{Interval: 10 * time.Millisecond}, sourceOf(a), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for a.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if a.count() < 3 {
		t.Errorf("polled %d times", a.count())
	}
}

func TestRunDisabled(t *testing.T) {
	a := &fakeTarget{id: "a"}
	p := New(Config{}, sourceOf(a), testLogger())
	p.Run(context.Background()) // returns immediately
	if a.count() != 0 {
		t.Error("polled with polling disabled")
	}
}
