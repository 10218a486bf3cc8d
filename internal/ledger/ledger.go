// Package ledger is the append-only log of accepted bids for a single lot.
// It is the source of truth for bid history and for resolving the current
// highest bid. The owning arbiter serializes all access.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koi-auction/bidding-engine/pkg/types"
)

type Ledger struct {
	lotID     int64
	ascending bool
	records   []types.BidRecord
}

// New creates an empty ledger. ascending enables the strictly-increasing
// amount invariant checked on append.
func New(lotID int64, ascending bool) *Ledger {
	return &Ledger{lotID: lotID, ascending: ascending}
}

// Append records an accepted bid and returns the immutable record. The
// ordering invariants are enforced here; a violation means the arbiter's
// serialization was broken and is fatal for the lot.
func (lg *Ledger) Append(bidderID, amount int64, acceptedAt time.Time) (types.BidRecord, error) {
	if n := len(lg.records); n > 0 {
		last := lg.records[n-1]
		if !acceptedAt.After(last.AcceptedAt) {
			if acceptedAt.Before(last.AcceptedAt) {
				return types.BidRecord{}, fmt.Errorf(
					"ledger lot %d: accepted_at %s before prior record %s",
					lg.lotID, acceptedAt, last.AcceptedAt)
			}
			// Same-instant accept from a coarse clock source: nudge
			// forward so accepted_at stays strictly increasing.
			acceptedAt = last.AcceptedAt.Add(time.Nanosecond)
		}
		if lg.ascending && amount <= last.Amount {
			return types.BidRecord{}, fmt.Errorf(
				"ledger lot %d: amount %d not above prior amount %d",
				lg.lotID, amount, last.Amount)
		}
	}
	rec := types.BidRecord{
		BidID:      uuid.NewString(),
		LotID:      lg.lotID,
		BidderID:   bidderID,
		Amount:     amount,
		AcceptedAt: acceptedAt,
	}
	lg.records = append(lg.records, rec)
	return rec, nil
}

func (lg *Ledger) Len() int { return len(lg.records) }

// Highest returns the most recent record on an ascending ledger, which by
// the append invariant is also the highest. ok is false on an empty ledger.
func (lg *Ledger) Highest() (types.BidRecord, bool) {
	if len(lg.records) == 0 {
		return types.BidRecord{}, false
	}
	if lg.ascending {
		return lg.records[len(lg.records)-1], true
	}
	best := lg.records[0]
	for _, r := range lg.records[1:] {
		if r.Amount > best.Amount {
			best = r
		}
	}
	return best, true
}

// History returns the newest n records, newest first. n <= 0 returns all.
func (lg *Ledger) History(n int) []types.BidRecord {
	if n <= 0 || n > len(lg.records) {
		n = len(lg.records)
	}
	out := make([]types.BidRecord, 0, n)
	for i := len(lg.records) - 1; i >= len(lg.records)-n; i-- {
		out = append(out, lg.records[i])
	}
	return out
}
