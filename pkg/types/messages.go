package types

import "time"

type EventType string

const (
	EventSnapshot      EventType = "Snapshot"
	EventBidAccepted   EventType = "BidAccepted"
	EventClockExtended EventType = "ClockExtended"
	EventLotEnded      EventType = "LotEnded"
)

// LotEvent is one message on a lot's subscription stream. Every event
// carries the full lot state so a client never has to reconstruct it from
// deltas.
type LotEvent struct {
	Type     EventType  `json:"type"`
	LotID    int64      `json:"lot_id"`
	Bid      *BidRecord `json:"bid,omitempty"`
	Lot      LotState   `json:"lot_state"`
	ClosesAt time.Time  `json:"closes_at"`
}

// Client -> Server over the socket.
type ClientMessage struct {
	Type           string `json:"type"` // "PlaceBid"
	BidderID       int64  `json:"bidder_id,omitempty"`
	Amount         int64  `json:"bid_amount,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PlaceBidRequest is the REST bid submission body.
type PlaceBidRequest struct {
	BidderID       int64  `json:"bidder_id"`
	Amount         int64  `json:"bid_amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// BidResponse is returned from both the REST endpoint and the socket
// ("BidResult" frames). Reason is set only when Accepted is false.
type BidResponse struct {
	Type     string    `json:"type,omitempty"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason,omitempty"`
	Lot      *LotState `json:"lot_state,omitempty"`
}
