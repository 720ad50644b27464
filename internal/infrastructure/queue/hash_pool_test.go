package queue

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/identity-service/internal/core/security"
)

type countingHasher struct {
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (h *countingHasher) enter() {
	n := h.active.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

func (h *countingHasher) Hash(ctx context.Context, plain string) (string, error) {
	h.enter()
	defer h.active.Add(-1)
	<-h.release
	return "digest:" + plain, nil
}

func (h *countingHasher) Verify(ctx context.Context, plain, digest string) bool {
	h.enter()
	defer h.active.Add(-1)
	<-h.release
	return digest == "digest:"+plain
}

func TestHashPool_RoundTrip(t *testing.T) {
	hasher, err := security.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewHashPool(2, hasher, nil, zerolog.Nop())
	pool.Start(ctx)
	defer pool.Close()

	digest, err := pool.Hash(ctx, "Secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pool.Verify(ctx, "Secret123", digest) {
		t.Error("expected matching password to verify")
	}
	if pool.Verify(ctx, "Secret124", digest) {
		t.Error("expected wrong password to fail")
	}
	if _, err := pool.Hash(ctx, string(make([]byte, 73))); !errors.Is(err, security.ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestHashPool_BoundsConcurrency(t *testing.T) {
	hasher := &countingHasher{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var depthCalls atomic.Int32
	pool := NewHashPool(3, hasher, func(int) { depthCalls.Add(1) }, zerolog.Nop())
	pool.Start(ctx)
	defer pool.Close()

	const jobs = 12
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Hash(ctx, "pw"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	deadline := time.After(2 * time.Second)
	for hasher.active.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("workers never picked up jobs")
		case <-time.After(time.Millisecond):
		}
	}
	close(hasher.release)
	wg.Wait()

	if peak := hasher.peak.Load(); peak > 3 {
		t.Errorf("expected at most 3 concurrent jobs, got %d", peak)
	}
	if depthCalls.Load() == 0 {
		t.Error("expected depth observer to be called")
	}
}

func TestHashPool_Closed(t *testing.T) {
	hasher := &countingHasher{release: make(chan struct{})}
	close(hasher.release)

	pool := NewHashPool(1, hasher, nil, zerolog.Nop())
	pool.Start(context.Background())
	pool.Close()
	pool.Close()

	if _, err := pool.Hash(context.Background(), "pw"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	if pool.Verify(context.Background(), "pw", "digest:pw") {
		t.Error("expected Verify to fail on a closed pool")
	}
}

func TestHashPool_VerifyLogsSkippedCheck(t *testing.T) {
	hasher := &countingHasher{release: make(chan struct{})}
	close(hasher.release)

	var buf bytes.Buffer
	pool := NewHashPool(1, hasher, nil, zerolog.New(&buf))
	pool.Start(context.Background())
	pool.Close()

	if pool.Verify(context.Background(), "pw", "digest:pw") {
		t.Fatal("expected Verify to fail on a closed pool")
	}
	out := buf.String()
	if !strings.Contains(out, "password verify not run") || !strings.Contains(out, ErrPoolClosed.Error()) {
		t.Fatalf("expected a warning naming the cause, got %q", out)
	}
}

func TestHashPool_StopsWithContext(t *testing.T) {
	hasher := &countingHasher{release: make(chan struct{})}
	close(hasher.release)

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewHashPool(1, hasher, nil, zerolog.Nop())
	pool.Start(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := pool.Hash(context.Background(), "pw"); errors.Is(err, ErrPoolClosed) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("pool did not close after context cancellation")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHashPool_CallerContext(t *testing.T) {
	hasher := &countingHasher{release: make(chan struct{})}
	close(hasher.release)

	pool := NewHashPool(1, hasher, nil, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Hash(ctx, "pw"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
