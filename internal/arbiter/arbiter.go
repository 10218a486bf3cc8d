// Package arbiter runs one goroutine per lot: the serialization point for
// bid validation, state mutation, clock extension and broadcast. Concurrent
// submissions for one lot are processed strictly in arrival order at the
// inbox; different lots run in parallel.
package arbiter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/clock"
	"github.com/koi-auction/bidding-engine/internal/identity"
	"github.com/koi-auction/bidding-engine/internal/ledger"
	"github.com/koi-auction/bidding-engine/internal/lot"
	"github.com/koi-auction/bidding-engine/internal/obs"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

var (
	// ErrSubmitTimeout: the per-lot serialization point could not be
	// acquired in time. Retryable by the client.
	ErrSubmitTimeout = errors.New("timed out waiting for the lot arbiter")
	// ErrLotShutdown: the arbiter is gone (process shutdown or lot removed).
	ErrLotShutdown = errors.New("lot arbiter has shut down")
)

// Sink receives accepted bids and lot state transitions for durable
// persistence. Calls are made inside the critical section and must not
// block; the storage write-behind queue satisfies this.
type Sink interface {
	SaveBid(rec types.BidRecord)
	SaveLotState(state types.LotState)
}

type NopSink struct{}

func (NopSink) SaveBid(types.BidRecord)     {}
func (NopSink) SaveLotState(types.LotState) {}

type BidRequest struct {
	LotID          int64
	BidderID       int64
	Amount         int64
	IdempotencyKey string
}

type BidResult struct {
	Accepted bool
	Reason   lot.RejectReason
	Detail   string
	Bid      *types.BidRecord
	Lot      types.LotState
}

type Msg interface{ isLotMsg() }

type placeBid struct {
	req   BidRequest
	reply chan BidResult
}

// Join registers a subscriber outbox. The current snapshot is delivered
// before any live event.
type Join struct {
	ClientID string
	Outbox   chan types.LotEvent
}

type Leave struct{ ClientID string }

type GetState struct{ Reply chan View }

type GetHistory struct {
	N     int
	Reply chan []types.BidRecord
}

type Shutdown struct{}

func (placeBid) isLotMsg()   {}
func (Join) isLotMsg()       {}
func (Leave) isLotMsg()      {}
func (GetState) isLotMsg()   {}
func (GetHistory) isLotMsg() {}
func (Shutdown) isLotMsg()   {}

type View struct {
	State       types.LotState
	NumClients  int
	NumBids     int
	Quarantined bool
}

type Options struct {
	Clock    clock.Config
	Verifier identity.Verifier
	Sink     Sink
	Logger   *zap.Logger
	Metrics  *obs.Metrics
	Now      func() time.Time
}

type Arbiter struct {
	inbox   chan Msg
	lot     *lot.Lot
	ledger  *ledger.Ledger
	clock   clock.Config
	verify  identity.Verifier
	sink    Sink
	log     *zap.Logger
	metrics *obs.Metrics
	now     func() time.Time

	clients     map[string]chan types.LotEvent
	idem        map[string]BidResult
	quarantined bool

	closeTimer *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
}

// New activates a lot and starts its arbiter goroutine.
func New(parent context.Context, cfg lot.Config, opts Options) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Verifier == nil {
		opts.Verifier = identity.AllowAll{}
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == (clock.Config{}) {
		opts.Clock = clock.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	now := opts.Now()
	a := &Arbiter{
		inbox:   make(chan Msg, 64),
		lot:     lot.New(cfg, now),
		ledger:  ledger.New(cfg.LotID, cfg.Method == types.MethodAscending),
		clock:   opts.Clock,
		verify:  opts.Verifier,
		sink:    opts.Sink,
		log:     opts.Logger.With(zap.Int64("lot_id", cfg.LotID)),
		metrics: opts.Metrics,
		now:     opts.Now,
		clients: make(map[string]chan types.LotEvent),
		idem:    make(map[string]BidResult),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.closeTimer = time.NewTimer(cfg.ClosesAt.Sub(now))
	if a.metrics != nil {
		a.metrics.LotsActive.Inc()
	}
	go a.loop()
	return a, nil
}

func (a *Arbiter) Inbox() chan<- Msg { return a.inbox }

// Done is closed when the arbiter has shut down and stopped draining its
// inbox.
func (a *Arbiter) Done() <-chan struct{} { return a.ctx.Done() }

// SubmitBid serializes a bid through the lot's inbox. ctx bounds both the
// wait for the serialization point and the wait for the verdict.
func (a *Arbiter) SubmitBid(ctx context.Context, req BidRequest) (BidResult, error) {
	reply := make(chan BidResult, 1)
	select {
	case a.inbox <- placeBid{req: req, reply: reply}:
	case <-ctx.Done():
		return BidResult{}, ErrSubmitTimeout
	case <-a.ctx.Done():
		return BidResult{}, ErrLotShutdown
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return BidResult{}, ErrSubmitTimeout
	case <-a.ctx.Done():
		// The verdict may have raced shutdown.
		select {
		case res := <-reply:
			return res, nil
		default:
			return BidResult{}, ErrLotShutdown
		}
	}
}

// State returns a consistent view of the lot for read-only callers.
func (a *Arbiter) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case a.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-a.ctx.Done():
		return View{}, ErrLotShutdown
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-a.ctx.Done():
		return View{}, ErrLotShutdown
	}
}

// History returns the newest n accepted bids, newest first.
func (a *Arbiter) History(ctx context.Context, n int) ([]types.BidRecord, error) {
	reply := make(chan []types.BidRecord, 1)
	select {
	case a.inbox <- GetHistory{N: n, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.ctx.Done():
		return nil, ErrLotShutdown
	}
	select {
	case recs := <-reply:
		return recs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.ctx.Done():
		return nil, ErrLotShutdown
	}
}

func (a *Arbiter) loop() {
	defer a.closeTimer.Stop()
	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case <-a.closeTimer.C:
			a.checkClose()

		case m := <-a.inbox:
			switch msg := m.(type) {
			case placeBid:
				msg.reply <- a.handleBid(msg.req)

			case Join:
				a.clients[msg.ClientID] = msg.Outbox
				if a.metrics != nil {
					a.metrics.Subscribers.Inc()
				}
				a.deliver(msg.ClientID, msg.Outbox, a.snapshotEvent(a.now()))

			case Leave:
				if ch, ok := a.clients[msg.ClientID]; ok {
					delete(a.clients, msg.ClientID)
					close(ch)
					if a.metrics != nil {
						a.metrics.Subscribers.Dec()
					}
				}

			case GetState:
				msg.Reply <- View{
					State:       a.snapshot(a.now()),
					NumClients:  len(a.clients),
					NumBids:     a.ledger.Len(),
					Quarantined: a.quarantined,
				}

			case GetHistory:
				msg.Reply <- a.history(msg.N)

			case Shutdown:
				a.shutdown()
				return
			}
		}
	}
}

// handleBid is the critical section: everything from validation to
// broadcast happens here, so no subscriber can observe an acceptance
// without its side effects, in the same relative order every bidder saw.
func (a *Arbiter) handleBid(req BidRequest) BidResult {
	if a.metrics != nil {
		start := time.Now()
		defer func() {
			a.metrics.BidLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
		}()
	}
	// The idempotency cache answers before any other gate: a replayed
	// accepted bid returns its original verdict even after quarantine.
	if req.IdempotencyKey != "" {
		if res, ok := a.idem[req.IdempotencyKey]; ok {
			return res
		}
	}
	if a.quarantined {
		return a.rejected(&lot.Rejection{
			Reason: lot.RejectLotUnavailable,
			Detail: "lot is unavailable pending operator intervention",
		})
	}

	now := a.now()
	// The deadline may have passed with the timer not yet drained; a bid
	// must never slip in after closesAt.
	if a.lot.Status == types.StatusActive && now.After(a.lot.ClosesAt) {
		a.finalize(now)
	}

	id, err := a.verify.Verify(a.ctx, req.BidderID)
	if err != nil {
		a.log.Warn("identity service unavailable", zap.Error(err))
		return a.rejected(&lot.Rejection{
			Reason: lot.RejectTimeout,
			Detail: "identity service unavailable, retry shortly",
		})
	}

	displayed := a.displayedPrice(now)
	if rej := lot.Validate(a.lot, displayed, req.Amount, req.BidderID, id.Verified); rej != nil {
		return a.rejected(rej)
	}

	rec, err := a.ledger.Append(req.BidderID, req.Amount, now)
	if err != nil {
		return a.quarantine(err)
	}
	sold := a.lot.Accept(req.BidderID, req.Amount)
	if err := a.lot.CheckInvariants(); err != nil {
		return a.quarantine(err)
	}

	extended := false
	if !sold && a.lot.Method != types.MethodDescending {
		if deadline, ok := a.clock.Extended(now, a.lot.ClosesAt); ok {
			a.lot.ClosesAt = deadline
			a.resetTimer(deadline.Sub(now))
			extended = true
		}
	}

	snap := a.snapshot(now)
	accepted := types.LotEvent{
		Type:     types.EventBidAccepted,
		LotID:    a.lot.LotID,
		Bid:      &rec,
		Lot:      snap,
		ClosesAt: snap.ClosesAt,
	}
	if a.lot.Method == types.MethodSealed && a.lot.Status == types.StatusActive {
		// Sealed amounts stay sealed: subscribers learn a bid landed, not
		// what it was.
		accepted.Bid = nil
	}
	a.broadcast(accepted)
	if extended {
		a.broadcast(types.LotEvent{
			Type:     types.EventClockExtended,
			LotID:    a.lot.LotID,
			Lot:      snap,
			ClosesAt: snap.ClosesAt,
		})
	}
	if sold {
		a.closeTimer.Stop()
		a.broadcast(types.LotEvent{
			Type:     types.EventLotEnded,
			LotID:    a.lot.LotID,
			Lot:      snap,
			ClosesAt: snap.ClosesAt,
		})
		a.sink.SaveLotState(snap)
		if a.metrics != nil {
			a.metrics.LotsActive.Dec()
		}
		a.log.Info("lot sold",
			zap.Int64("winner", a.lot.LeadingBidderID),
			zap.Int64("amount", a.lot.CurrentBid))
	}
	a.sink.SaveBid(rec)

	res := BidResult{Accepted: true, Bid: &rec, Lot: snap}
	if req.IdempotencyKey != "" {
		a.idem[req.IdempotencyKey] = res
	}
	if a.metrics != nil {
		a.metrics.BidsTotal.WithLabelValues("accepted").Inc()
	}
	return res
}

func (a *Arbiter) rejected(rej *lot.Rejection) BidResult {
	if a.metrics != nil {
		a.metrics.BidsTotal.WithLabelValues(string(rej.Reason)).Inc()
	}
	return BidResult{
		Accepted: false,
		Reason:   rej.Reason,
		Detail:   rej.Detail,
		Lot:      a.snapshot(a.now()),
	}
}

// quarantine handles a broken invariant: the lot stops taking bids and the
// incident is surfaced for an operator rather than auto-healed.
func (a *Arbiter) quarantine(err error) BidResult {
	a.quarantined = true
	a.closeTimer.Stop()
	a.log.Error("lot quarantined", zap.Error(err))
	return a.rejected(&lot.Rejection{
		Reason: lot.RejectLotUnavailable,
		Detail: "lot is unavailable pending operator intervention",
	})
}

// checkClose runs when the close timer fires. A bid accepted in the last
// instant may already have pushed closesAt forward, in which case the
// timer re-arms instead of finalizing; the shared inbox makes this check
// and the bid-accept path mutually exclusive.
func (a *Arbiter) checkClose() {
	if a.lot.Status != types.StatusActive || a.quarantined {
		return
	}
	now := a.now()
	if now.Before(a.lot.ClosesAt) {
		a.resetTimer(a.lot.ClosesAt.Sub(now))
		return
	}
	a.finalize(now)
}

func (a *Arbiter) finalize(now time.Time) {
	sold := a.lot.Close()
	snap := a.snapshot(now)
	a.broadcast(types.LotEvent{
		Type:     types.EventLotEnded,
		LotID:    a.lot.LotID,
		Lot:      snap,
		ClosesAt: snap.ClosesAt,
	})
	a.sink.SaveLotState(snap)
	if a.metrics != nil {
		a.metrics.LotsActive.Dec()
	}
	a.log.Info("lot closed",
		zap.Bool("sold", sold),
		zap.Int64("final_bid", a.lot.CurrentBid),
		zap.Int64("winner", a.lot.LeadingBidderID))
}

func (a *Arbiter) resetTimer(d time.Duration) {
	if !a.closeTimer.Stop() {
		select {
		case <-a.closeTimer.C:
		default:
		}
	}
	a.closeTimer.Reset(d)
}

func (a *Arbiter) displayedPrice(now time.Time) int64 {
	if a.lot.Method != types.MethodDescending {
		return 0
	}
	return a.clock.DescendingPrice(now, a.lot.ActivatedAt, a.lot.BasePrice, a.lot.CeilingPrice, a.lot.BidStep)
}

func (a *Arbiter) snapshot(now time.Time) types.LotState {
	return a.lot.Snapshot(a.displayedPrice(now))
}

// history returns accepted bids for read callers. While a sealed lot is
// ACTIVE the amounts and bidder ids stay sealed, same as the snapshot
// masking: readers learn that bids landed, not what they were.
func (a *Arbiter) history(n int) []types.BidRecord {
	recs := a.ledger.History(n)
	if a.lot.Method == types.MethodSealed && a.lot.Status == types.StatusActive {
		for i := range recs {
			recs[i].BidderID = 0
			recs[i].Amount = 0
		}
	}
	return recs
}

func (a *Arbiter) snapshotEvent(now time.Time) types.LotEvent {
	snap := a.snapshot(now)
	return types.LotEvent{
		Type:     types.EventSnapshot,
		LotID:    a.lot.LotID,
		Lot:      snap,
		ClosesAt: snap.ClosesAt,
	}
}

func (a *Arbiter) broadcast(ev types.LotEvent) {
	for id, ch := range a.clients {
		a.deliver(id, ch, ev)
	}
}

// deliver pushes an event without ever blocking the lot loop. A full
// outbox has its backlog dropped and replaced with a fresh snapshot so the
// subscriber can never be left rendering stale state; a subscriber that
// cannot even take the snapshot is gone and gets dropped.
func (a *Arbiter) deliver(id string, ch chan types.LotEvent, ev types.LotEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
drain:
	for {
		select {
		case <-ch:
		default:
			break drain
		}
	}
	if a.metrics != nil {
		a.metrics.BroadcastDropped.Inc()
	}
	select {
	case ch <- a.snapshotEvent(a.now()):
	default:
		delete(a.clients, id)
		close(ch)
		if a.metrics != nil {
			a.metrics.Subscribers.Dec()
		}
	}
}

func (a *Arbiter) shutdown() {
	// The in-flight message, if any, completed before we got here; the
	// loop never preempts a bid mid-mutation.
	if a.lot.Status == types.StatusActive {
		a.sink.SaveLotState(a.snapshot(a.now()))
		if a.metrics != nil {
			a.metrics.LotsActive.Dec()
		}
	}
	for id, ch := range a.clients {
		close(ch)
		delete(a.clients, id)
		if a.metrics != nil {
			a.metrics.Subscribers.Dec()
		}
	}
	a.cancel()
}
