package hub

import (
	"context"
	"testing"
	"time"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

type fakeSource map[int64]lot.Config

func (f fakeSource) LoadLot(_ context.Context, lotID int64) (lot.Config, error) {
	cfg, ok := f[lotID]
	if !ok {
		return lot.Config{}, ErrLotNotFound
	}
	return cfg, nil
}

func testConfig(lotID int64) lot.Config {
	return lot.Config{
		LotID:     lotID,
		OwnerID:   9,
		Method:    types.MethodAscending,
		BasePrice: 1_000_000,
		BidStep:   50_000,
		StartsAt:  time.Now().Add(-time.Minute),
		ClosesAt:  time.Now().Add(time.Hour),
	}
}

func newTestHub(t *testing.T, src Source) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, src, arbiter.Options{})
}

func TestActivateIsIdempotent(t *testing.T) {
	h := newTestHub(t, fakeSource{1: testConfig(1)})
	ctx := context.Background()

	first, err := h.Activate(ctx, 1)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	second, err := h.Activate(ctx, 1)
	if err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	if first != second {
		t.Fatalf("re-activation spawned a second arbiter")
	}
}

func TestActivateUnknownLot(t *testing.T) {
	h := newTestHub(t, fakeSource{})
	if _, err := h.Activate(context.Background(), 42); err == nil {
		t.Fatalf("expected error for unknown lot")
	}
}

func TestActivateBeforeStartTime(t *testing.T) {
	cfg := testConfig(1)
	cfg.StartsAt = time.Now().Add(time.Hour)
	h := newTestHub(t, fakeSource{1: cfg})

	_, err := h.Activate(context.Background(), 1)
	if err != ErrNotStarted {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
}

func TestGetReturnsNilForInactiveLot(t *testing.T) {
	h := newTestHub(t, fakeSource{1: testConfig(1)})

	arb, err := h.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if arb != nil {
		t.Fatalf("expected nil for not-yet-activated lot")
	}
}

func TestRemoveLotShutsDownArbiter(t *testing.T) {
	h := newTestHub(t, fakeSource{1: testConfig(1)})
	ctx := context.Background()

	arb, err := h.Activate(ctx, 1)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	out := make(chan types.LotEvent, 4)
	arb.Inbox() <- arbiter.Join{ClientID: "c1", Outbox: out}
	<-out // snapshot

	h.Inbox() <- RemoveLot{LotID: 1}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed outbox after removal")
		}
	case <-time.After(time.Second):
		t.Fatalf("arbiter not shut down on removal")
	}

	arb2, err := h.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if arb2 != nil {
		t.Fatalf("removed lot still registered")
	}
}

func TestShutdownCascades(t *testing.T) {
	h := newTestHub(t, fakeSource{1: testConfig(1)})

	arb, err := h.Activate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	out := make(chan types.LotEvent, 4)
	arb.Inbox() <- arbiter.Join{ClientID: "c1", Outbox: out}
	<-out // snapshot

	h.Shutdown()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed outbox after hub shutdown")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber not released on hub shutdown")
	}
}
