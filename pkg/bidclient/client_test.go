package bidclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/httpapi"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/internal/storage"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

func TestBackoffBounded(t *testing.T) {
	s := New("ws://example", 1, Options{
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: time.Second,
	})
	for attempt := 0; attempt < 12; attempt++ {
		d := s.backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
		require.LessOrEqual(t, d, time.Second, "attempt %d", attempt)
	}
}

func recvEvent(t *testing.T, ch <-chan types.LotEvent, within time.Duration) types.LotEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return types.LotEvent{}
	}
}

func TestSessionStreamsSnapshotAndBids(t *testing.T) {
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := storage.NewMemorySource(lot.Config{
		LotID:     1,
		OwnerID:   9,
		Method:    types.MethodAscending,
		BasePrice: 1_000_000,
		BidStep:   50_000,
		StartsAt:  time.Now().Add(-time.Minute),
		ClosesAt:  time.Now().Add(time.Hour),
	})
	h := hub.NewHub(ctx, src, arbiter.Options{Logger: logger})
	_, err := h.Activate(ctx, 1)
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.SetupRoutes(h, logger, prometheus.NewRegistry(), 2*time.Second))
	defer srv.Close()

	events := make(chan types.LotEvent, 16)
	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), 1, Options{})
	s.OnEvent(func(ev types.LotEvent) { events <- ev })
	require.NoError(t, s.Connect(ctx))
	defer s.Close()

	ev := recvEvent(t, events, 2*time.Second)
	require.Equal(t, types.EventSnapshot, ev.Type)
	require.EqualValues(t, 0, ev.Lot.CurrentBid)

	require.NoError(t, s.PlaceBid(ctx, 2, 1_000_000, "n1"))

	ev = recvEvent(t, events, 2*time.Second)
	require.Equal(t, types.EventBidAccepted, ev.Type)
	require.NotNil(t, ev.Bid)
	require.EqualValues(t, 1_000_000, ev.Bid.Amount)
	require.EqualValues(t, 2, ev.Lot.LeadingBidderID)
}
