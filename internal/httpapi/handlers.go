package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

const historyLimit = 50

func lotID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	return id, err == nil
}

// ActivateLot brings a scheduled lot live. Idempotent: re-activating a
// live lot returns its current state.
func ActivateLot(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := lotID(r)
		if !ok {
			http.Error(w, "bad lot id", http.StatusBadRequest)
			return
		}
		arb, err := h.Activate(r.Context(), id)
		switch {
		case errors.Is(err, hub.ErrLotNotFound):
			http.Error(w, "lot not found", http.StatusNotFound)
			return
		case errors.Is(err, hub.ErrNotStarted):
			http.Error(w, "lot has not reached its start time", http.StatusConflict)
			return
		case err != nil:
			log.Error("activate lot failed", zap.Int64("lot_id", id), zap.Error(err))
			http.Error(w, "activation failed", http.StatusInternalServerError)
			return
		}
		view, err := arb.State(r.Context())
		if err != nil {
			http.Error(w, "lot unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, view.State)
	}
}

// SubmitBid is the REST bid entry point.
func SubmitBid(h *hub.Hub, log *zap.Logger, submitTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := lotID(r)
		if !ok {
			http.Error(w, "bad lot id", http.StatusBadRequest)
			return
		}
		var req types.PlaceBidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		arb, err := h.Get(r.Context(), id)
		if err != nil || arb == nil {
			http.Error(w, "lot not found", http.StatusNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
		defer cancel()
		res, err := arb.SubmitBid(ctx, arbiter.BidRequest{
			LotID:          id,
			BidderID:       req.BidderID,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			// Transient: the client retries with backoff.
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		snap := res.Lot
		body := types.BidResponse{
			Accepted: res.Accepted,
			Lot:      &snap,
		}
		status := http.StatusOK
		if !res.Accepted {
			body.Reason = res.Detail
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, body)
	}
}

type lotResponse struct {
	Lot  types.LotState    `json:"lot_state"`
	Bids []types.BidRecord `json:"bids"`
}

// GetLot returns the current snapshot plus recent bid history.
func GetLot(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := lotID(r)
		if !ok {
			http.Error(w, "bad lot id", http.StatusBadRequest)
			return
		}
		arb, err := h.Get(r.Context(), id)
		if err != nil || arb == nil {
			http.Error(w, "lot not found", http.StatusNotFound)
			return
		}
		view, err := arb.State(r.Context())
		if err != nil {
			http.Error(w, "lot unavailable", http.StatusServiceUnavailable)
			return
		}
		bids, err := arb.History(r.Context(), historyLimit)
		if err != nil {
			http.Error(w, "lot unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, lotResponse{Lot: view.State, Bids: bids})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
