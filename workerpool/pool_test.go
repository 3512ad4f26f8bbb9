package workerpool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitDone(t *testing.T, h Handle) (any, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if done, v, err := h.Poll(); done {
			return v, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle never completed")
	return nil, nil
}

func TestSubmitReturnsValue(t *testing.T) {
	p := New(2)
	h := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	v, err := waitDone(t, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	p.Shutdown()
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(1)
	wantErr := errors.New("boom")
	h := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	_, err := waitDone(t, h)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	p.Shutdown()
}

func TestInterruptCancelsContext(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	h := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	h.Interrupt()
	_, err := waitDone(t, h)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	p.Shutdown()
}

func TestBoundedConcurrency(t *testing.T) {
	p := New(2)
	var running, maxSeen int32
	mu := make(chan struct{}, 1)
	mu <- struct{}{}

	bump := func(delta int32) {
		<-mu
		running += delta
		if running > maxSeen {
			maxSeen = running
		}
		mu <- struct{}{}
	}

	const n = 6
	handles := make([]Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			bump(1)
			time.Sleep(20 * time.Millisecond)
			bump(-1)
			return nil, nil
		})
	}
	for _, h := range handles {
		waitDone(t, h)
	}
	p.Shutdown()

	if maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", maxSeen)
	}
}
