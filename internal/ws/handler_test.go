package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/internal/storage"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

func TestSubscriberSocketClosedOnLotShutdown(t *testing.T) {
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
	h := hub.NewHub(ctx, src, arbiter.Options{Logger: zap.NewNop()})
	_, err := h.Activate(ctx, 1)
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(h, zap.NewNop(), time.Second))
	defer srv.Close()

	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/?lot_id=1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var ev types.LotEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, types.EventSnapshot, ev.Type)

	h.Shutdown()

	// The server hangs up; the subscriber must not be left on a silent
	// socket with a leaked writer behind it.
	closeCtx, closeCancel := context.WithTimeout(ctx, 2*time.Second)
	defer closeCancel()
	for {
		if _, _, err = conn.Read(closeCtx); err != nil {
			break
		}
	}
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
