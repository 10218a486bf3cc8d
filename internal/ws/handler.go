// Package ws is the subscription transport: one socket per (client, lot),
// streaming LotEvents. Bids may also be placed over the socket, mirroring
// the marketplace's placeBid publish.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, log *zap.Logger, submitTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lotID, err := strconv.ParseInt(r.URL.Query().Get("lot_id"), 10, 64)
		if err != nil {
			http.Error(w, "missing or bad lot_id", http.StatusBadRequest)
			return
		}

		arb, err := h.Get(r.Context(), lotID)
		if err != nil || arb == nil {
			http.Error(w, "lot not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.LotEvent, 16)
		clientID := uuid.NewString()

		select {
		case arb.Inbox() <- arbiter.Join{ClientID: clientID, Outbox: out}:
		case <-arb.Done():
			return
		}
		// Leave closes the outbox, which also stops the writer below. If the
		// arbiter is already gone it closed the outbox itself on shutdown.
		defer func() {
			select {
			case arb.Inbox() <- arbiter.Leave{ClientID: clientID}:
			case <-arb.Done():
			}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			// Closing the connection here unblocks the reader below when the
			// lot shuts down, even if the Join above was still buffered and
			// the outbox was never adopted.
			defer conn.Close(websocket.StatusGoingAway, "lot closed")
			for {
				select {
				case ev, ok := <-out:
					if !ok {
						return
					}
					payload, err := json.Marshal(ev)
					if err != nil {
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				case <-arb.Done():
					return
				}
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeJSON(writeCtx, conn, types.BidResponse{
					Type: "Error", Reason: "bad json",
				})
				continue
			}
			if cm.Type != "PlaceBid" {
				writeJSON(writeCtx, conn, types.BidResponse{
					Type: "Error", Reason: "unknown type",
				})
				continue
			}

			ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
			res, err := arb.SubmitBid(ctx, arbiter.BidRequest{
				LotID:          lotID,
				BidderID:       cm.BidderID,
				Amount:         cm.Amount,
				IdempotencyKey: cm.IdempotencyKey,
			})
			cancel()
			if err != nil {
				log.Warn("socket bid failed",
					zap.Int64("lot_id", lotID), zap.Error(err))
				reason := string(lot.RejectTimeout)
				if errors.Is(err, arbiter.ErrLotShutdown) {
					reason = string(lot.RejectLotUnavailable)
				}
				writeJSON(writeCtx, conn, types.BidResponse{
					Type: "BidResult", Reason: reason,
				})
				continue
			}
			snap := res.Lot
			writeJSON(writeCtx, conn, types.BidResponse{
				Type:     "BidResult",
				Accepted: res.Accepted,
				Reason:   bidReason(res),
				Lot:      &snap,
			})
		}
	}
}

func bidReason(res arbiter.BidResult) string {
	if res.Accepted {
		return ""
	}
	if res.Detail != "" {
		return res.Detail
	}
	return string(res.Reason)
}

func writeJSON(parent context.Context, conn *websocket.Conn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
