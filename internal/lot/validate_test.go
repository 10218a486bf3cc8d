package lot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koi-auction/bidding-engine/pkg/types"
)

func ascendingLot(base, step, ceiling int64) *Lot {
	l := New(Config{
		LotID:        1,
		OwnerID:      9,
		Method:       types.MethodAscending,
		BasePrice:    base,
		BidStep:      step,
		CeilingPrice: ceiling,
		ClosesAt:     time.Now().Add(time.Hour),
	}, time.Now())
	return l
}

func TestValidateAscending(t *testing.T) {
	cases := []struct {
		name       string
		currentBid int64
		leader     int64
		amount     int64
		bidder     int64
		want       RejectReason // "" means admissible
	}{
		{name: "first bid at base price", amount: 1_000_000, bidder: 2},
		{name: "first bid below base price", amount: 999_999, bidder: 2, want: RejectBidTooLow},
		{name: "clears current bid by one step", currentBid: 1_000_000, leader: 3, amount: 1_050_000, bidder: 2},
		{name: "inside the bid step", currentBid: 1_000_000, leader: 3, amount: 1_040_000, bidder: 2, want: RejectBidTooLow},
		{name: "owner cannot bid", amount: 1_000_000, bidder: 9, want: RejectOwnerCannotBid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := ascendingLot(1_000_000, 50_000, 0)
			l.CurrentBid = tc.currentBid
			l.LeadingBidderID = tc.leader
			rej := Validate(l, 0, tc.amount, tc.bidder, true)
			if tc.want == "" {
				require.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			require.Equal(t, tc.want, rej.Reason)
		})
	}
}

func TestValidateCeiling(t *testing.T) {
	l := ascendingLot(1_000_000, 50_000, 2_000_000)

	rej := Validate(l, 0, 2_000_001, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectAboveCeiling, rej.Reason)

	// Exactly at the ceiling is a buy-out, not a violation.
	require.Nil(t, Validate(l, 0, 2_000_000, 2, true))
}

func TestValidateClosedAndSold(t *testing.T) {
	l := ascendingLot(1_000_000, 50_000, 0)
	l.Status = types.StatusEnded
	rej := Validate(l, 0, 1_000_000, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectAuctionClosed, rej.Reason)

	l.Status = types.StatusSold
	rej = Validate(l, 0, 1_000_000, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectAlreadySold, rej.Reason)
}

func TestValidateUnverifiedBidder(t *testing.T) {
	l := ascendingLot(1_000_000, 50_000, 0)
	rej := Validate(l, 0, 1_000_000, 2, false)
	require.NotNil(t, rej)
	require.Equal(t, RejectBidderNotVerified, rej.Reason)
}

func TestValidateDescending(t *testing.T) {
	l := New(Config{
		LotID:        2,
		OwnerID:      9,
		Method:       types.MethodDescending,
		BasePrice:    500_000,
		BidStep:      10_000,
		CeilingPrice: 800_000,
		ClosesAt:     time.Now().Add(time.Hour),
	}, time.Now())

	rej := Validate(l, 700_000, 650_000, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectBidTooLow, rej.Reason)

	require.Nil(t, Validate(l, 700_000, 700_000, 2, true))
}

func TestValidateSealed(t *testing.T) {
	l := New(Config{
		LotID:     3,
		OwnerID:   9,
		Method:    types.MethodSealed,
		BasePrice: 100_000,
		ClosesAt:  time.Now().Add(time.Hour),
	}, time.Now())

	// Sealed bids never compare against the standing bid.
	l.Accept(4, 900_000)
	require.Nil(t, Validate(l, 0, 100_000, 2, true))

	rej := Validate(l, 0, 99_999, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectBidTooLow, rej.Reason)
}

func TestValidateFixedPrice(t *testing.T) {
	l := New(Config{
		LotID:     4,
		OwnerID:   9,
		Method:    types.MethodFixedPrice,
		BasePrice: 500_000,
		ClosesAt:  time.Now().Add(time.Hour),
	}, time.Now())

	rej := Validate(l, 0, 499_999, 2, true)
	require.NotNil(t, rej)
	require.Equal(t, RejectBidTooLow, rej.Reason)

	require.Nil(t, Validate(l, 0, 500_000, 2, true))
}
