// Package types holds the wire-level shapes shared by the server transports
// and pkg/bidclient. Field names follow the marketplace schema
// (base_price, current_bid, bid_step, ...).
package types

import "time"

type BidMethod string

const (
	MethodAscending  BidMethod = "ASCENDING_BID"
	MethodDescending BidMethod = "DESCENDING_BID"
	MethodSealed     BidMethod = "SEALED_BID"
	MethodFixedPrice BidMethod = "FIXED_PRICE"
)

type LotStatus string

const (
	StatusScheduled LotStatus = "SCHEDULED"
	StatusActive    LotStatus = "ACTIVE"
	StatusEnded     LotStatus = "ENDED"
	StatusSold      LotStatus = "SOLD"
)

// LotState is an immutable snapshot of one lot, as seen by clients.
// For ACTIVE sealed lots CurrentBid and LeadingBidderID are masked (zero)
// until the lot closes.
type LotState struct {
	LotID           int64     `json:"lot_id"`
	AuctionID       int64     `json:"auction_id"`
	KoiID           int64     `json:"koi_id"`
	OwnerID         int64     `json:"owner_id"`
	BidMethod       BidMethod `json:"bid_method"`
	BasePrice       int64     `json:"base_price"`
	BidStep         int64     `json:"bid_step,omitempty"`
	CeilingPrice    int64     `json:"ceiling_price,omitempty"`
	CurrentBid      int64     `json:"current_bid"`
	LeadingBidderID int64     `json:"leading_bidder_id,omitempty"`
	// DisplayedPrice is the current ask on a DESCENDING_BID lot.
	DisplayedPrice int64     `json:"displayed_price,omitempty"`
	Status         LotStatus `json:"status"`
	StartsAt       time.Time `json:"starts_at"`
	ClosesAt       time.Time `json:"closes_at"`
}

// BidRecord is one accepted bid. Immutable once written to the ledger.
type BidRecord struct {
	BidID      string    `json:"bid_id"`
	LotID      int64     `json:"lot_id"`
	BidderID   int64     `json:"bidder_id"`
	Amount     int64     `json:"bid_amount"`
	AcceptedAt time.Time `json:"bid_time"`
}
