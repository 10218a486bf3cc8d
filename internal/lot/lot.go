// Package lot holds the authoritative in-memory state of one auction lot
// and the pure bid-admissibility rules. Nothing in here is safe for
// concurrent use; the arbiter owns a Lot and serializes every access.
package lot

import (
	"errors"
	"fmt"
	"time"

	"github.com/koi-auction/bidding-engine/pkg/types"
)

var ErrInvariantViolated = errors.New("lot invariant violated")

// Config is the immutable lot configuration loaded from the repository at
// activation.
type Config struct {
	LotID        int64
	AuctionID    int64
	KoiID        int64
	OwnerID      int64
	Method       types.BidMethod
	BasePrice    int64
	BidStep      int64
	CeilingPrice int64
	StartsAt     time.Time
	ClosesAt     time.Time
}

func (c Config) Validate() error {
	if c.BasePrice < 0 {
		return fmt.Errorf("lot %d: base_price must be >= 0", c.LotID)
	}
	switch c.Method {
	case types.MethodAscending, types.MethodDescending:
		if c.BidStep <= 0 {
			return fmt.Errorf("lot %d: %s requires bid_step > 0", c.LotID, c.Method)
		}
		if c.CeilingPrice != 0 && c.CeilingPrice <= c.BasePrice {
			return fmt.Errorf("lot %d: ceiling_price must exceed base_price", c.LotID)
		}
		if c.Method == types.MethodDescending && c.CeilingPrice == 0 {
			return fmt.Errorf("lot %d: %s requires ceiling_price", c.LotID, c.Method)
		}
	case types.MethodSealed, types.MethodFixedPrice:
		// no step/ceiling constraints
	default:
		return fmt.Errorf("lot %d: unknown bid_method %q", c.LotID, c.Method)
	}
	return nil
}

type sealedEntry struct {
	Amount int64
	Seq    int
}

// Lot is the mutable authoritative record. currentBid==0 means no bid yet.
type Lot struct {
	Config

	CurrentBid      int64
	LeadingBidderID int64
	Status          types.LotStatus
	ActivatedAt     time.Time

	sealed    map[int64]sealedEntry
	sealedSeq int
}

// New activates a lot from its configuration (SCHEDULED -> ACTIVE).
func New(cfg Config, activatedAt time.Time) *Lot {
	return &Lot{
		Config:      cfg,
		Status:      types.StatusActive,
		ActivatedAt: activatedAt,
		sealed:      make(map[int64]sealedEntry),
	}
}

// Accept applies an already-validated bid. Reports whether the acceptance
// ends the lot immediately (descending/fixed first-accept, ascending
// buy-out at the ceiling).
func (l *Lot) Accept(bidderID, amount int64) (sold bool) {
	switch l.Method {
	case types.MethodSealed:
		// Resubmission replaces the bidder's standing sealed amount; the
		// visible state stays masked until Close.
		l.sealedSeq++
		l.sealed[bidderID] = sealedEntry{Amount: amount, Seq: l.sealedSeq}
		return false

	case types.MethodDescending, types.MethodFixedPrice:
		l.CurrentBid = amount
		l.LeadingBidderID = bidderID
		return l.end()

	default: // ascending
		l.CurrentBid = amount
		l.LeadingBidderID = bidderID
		if l.CeilingPrice > 0 && amount >= l.CeilingPrice {
			return l.end()
		}
		return false
	}
}

// end runs the closing transition: ACTIVE -> ENDED, then ENDED -> SOLD when
// a winning bid stands. Immediate sales and deadline closes share it.
func (l *Lot) end() (sold bool) {
	l.Status = types.StatusEnded
	if l.CurrentBid > 0 {
		l.Status = types.StatusSold
		return true
	}
	return false
}

// Close transitions ACTIVE -> ENDED and, if a winning bid exists,
// ENDED -> SOLD. Sealed lots resolve their winner here (highest amount,
// earliest standing bid on ties): the reveal is atomic with the close.
func (l *Lot) Close() (sold bool) {
	if l.Status != types.StatusActive {
		return l.Status == types.StatusSold
	}
	if l.Method == types.MethodSealed {
		var win sealedEntry
		var winner int64
		for bidder, e := range l.sealed {
			if e.Amount > win.Amount || (e.Amount == win.Amount && winner != 0 && e.Seq < win.Seq) {
				win, winner = e, bidder
			}
		}
		l.CurrentBid = win.Amount
		l.LeadingBidderID = winner
	}
	return l.end()
}

// CheckInvariants verifies the state consistency rules. A non-nil return
// is fatal for the lot: the arbiter quarantines it.
func (l *Lot) CheckInvariants() error {
	if l.CurrentBid != 0 && l.CurrentBid < l.BasePrice {
		return fmt.Errorf("%w: lot %d current_bid %d below base_price %d",
			ErrInvariantViolated, l.LotID, l.CurrentBid, l.BasePrice)
	}
	if l.Method != types.MethodSealed || l.Status != types.StatusActive {
		if (l.LeadingBidderID != 0) != (l.CurrentBid > 0) {
			return fmt.Errorf("%w: lot %d leading_bidder_id %d inconsistent with current_bid %d",
				ErrInvariantViolated, l.LotID, l.LeadingBidderID, l.CurrentBid)
		}
	}
	if l.Status == types.StatusSold && l.LeadingBidderID == 0 {
		return fmt.Errorf("%w: lot %d SOLD without a winning bid", ErrInvariantViolated, l.LotID)
	}
	return nil
}

// Snapshot returns the wire view of the lot. displayedPrice is the current
// descending ask (ignored for other methods). ACTIVE sealed lots mask the
// standing bid and leader.
func (l *Lot) Snapshot(displayedPrice int64) types.LotState {
	s := types.LotState{
		LotID:           l.LotID,
		AuctionID:       l.AuctionID,
		KoiID:           l.KoiID,
		OwnerID:         l.OwnerID,
		BidMethod:       l.Method,
		BasePrice:       l.BasePrice,
		BidStep:         l.BidStep,
		CeilingPrice:    l.CeilingPrice,
		CurrentBid:      l.CurrentBid,
		LeadingBidderID: l.LeadingBidderID,
		Status:          l.Status,
		StartsAt:        l.StartsAt,
		ClosesAt:        l.ClosesAt,
	}
	if l.Method == types.MethodDescending && l.Status == types.StatusActive {
		s.DisplayedPrice = displayedPrice
	}
	if l.Method == types.MethodSealed && l.Status == types.StatusActive {
		s.CurrentBid = 0
		s.LeadingBidderID = 0
	}
	return s
}
