package lot

import (
	"fmt"

	"github.com/koi-auction/bidding-engine/pkg/types"
)

type RejectReason string

const (
	RejectAuctionClosed     RejectReason = "AuctionClosed"
	RejectOwnerCannotBid    RejectReason = "OwnerCannotBid"
	RejectBidderNotVerified RejectReason = "BidderNotVerified"
	RejectBidTooLow         RejectReason = "BidTooLow"
	RejectAboveCeiling      RejectReason = "AboveCeiling"
	RejectAlreadySold       RejectReason = "AlreadySold"
	RejectLotUnavailable    RejectReason = "LotUnavailable"
	RejectTimeout           RejectReason = "Timeout"
)

// Rejection explains why a bid was not admissible. Detail is safe to show
// to the submitting bidder.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string { return string(r.Reason) + ": " + r.Detail }

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validate decides whether a proposed bid is admissible against the current
// lot state. displayedPrice is the current descending ask (only read for
// DESCENDING_BID lots). verified is the identity service's verdict for the
// bidder. A nil return means the bid may be accepted.
func Validate(l *Lot, displayedPrice, amount, bidderID int64, verified bool) *Rejection {
	if l.Status != types.StatusActive {
		if l.Status == types.StatusSold {
			return reject(RejectAlreadySold, "lot %d has already been sold", l.LotID)
		}
		return reject(RejectAuctionClosed, "lot %d is not open for bidding", l.LotID)
	}
	if bidderID == l.OwnerID {
		return reject(RejectOwnerCannotBid, "the owner of a koi cannot bid on it")
	}
	if !verified {
		return reject(RejectBidderNotVerified, "bidder %d is not a verified account", bidderID)
	}

	switch l.Method {
	case types.MethodAscending:
		floor := l.BasePrice
		if l.CurrentBid > 0 {
			floor = l.CurrentBid + l.BidStep
		}
		if amount < floor {
			if l.CurrentBid > 0 {
				return reject(RejectBidTooLow,
					"bid must exceed the current bid by at least the bid step (minimum %d)", floor)
			}
			return reject(RejectBidTooLow, "first bid must be at least the base price %d", floor)
		}
		if l.CeilingPrice > 0 && amount > l.CeilingPrice {
			return reject(RejectAboveCeiling, "bid exceeds the ceiling price %d", l.CeilingPrice)
		}
		return nil

	case types.MethodDescending:
		// First accept wins; a bid below the current ask cannot buy yet.
		if amount < displayedPrice {
			return reject(RejectBidTooLow, "bid is below the current asking price %d", displayedPrice)
		}
		return nil

	case types.MethodSealed:
		if amount < l.BasePrice {
			return reject(RejectBidTooLow, "sealed bid must be at least the base price %d", l.BasePrice)
		}
		return nil

	case types.MethodFixedPrice:
		if amount < l.BasePrice {
			return reject(RejectBidTooLow, "lot is offered at the fixed price %d", l.BasePrice)
		}
		return nil

	default:
		return reject(RejectLotUnavailable, "lot %d has an unknown bid method", l.LotID)
	}
}
