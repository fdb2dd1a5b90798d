package throttle

import (
	"context"
	"testing"
	"time"
)

func TestWaitFirstCallIsFree(t *testing.T) {
	l := New(time.Second)

	start := time.Now()
	if err := l.Wait(context.Background(), "example.com"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if took := time.Since(start); took > 100*time.Millisecond {
		t.Errorf("first Wait took %v, want immediate", took)
	}
}

func TestWaitEnforcesGap(t *testing.T) {
	gap := 80 * time.Millisecond
	l := New(gap)
	ctx := context.Background()

	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if took := time.Since(start); took < gap/2 {
		t.Errorf("second Wait returned after %v, want roughly the %v gap", took, gap)
	}
}

func TestWaitSeparateDomainsDoNotBlock(t *testing.T) {
	l := New(time.Second)
	ctx := context.Background()

	if err := l.Wait(ctx, "one.example"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "two.example"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if took := time.Since(start); took > 100*time.Millisecond {
		t.Errorf("unrelated domain waited %v", took)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	l := New(10 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	err := l.Wait(ctx, "example.com")
	if err == nil {
		t.Fatal("second Wait returned nil, want a context error")
	}
}

func TestWaitZeroGapNeverBlocks(t *testing.T) {
	l := New(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx, "example.com"); err != nil {
			t.Fatalf("Wait #%d: %v", i, err)
		}
	}
}

func TestPruneDropsStaleEntries(t *testing.T) {
	l := New(10 * time.Millisecond)
	l.Wait(context.Background(), "stale.example")

	time.Sleep(30 * time.Millisecond)
	l.prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lastHit) != 0 {
		t.Errorf("ledger still holds %d entries after prune", len(l.lastHit))
	}
}
