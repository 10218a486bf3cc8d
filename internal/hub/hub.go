// Package hub is the registry of live lot arbiters: one hub per process,
// created at startup and torn down on shutdown. Activation loads the lot
// configuration from the repository exactly once, at the
// SCHEDULED -> ACTIVE transition.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/lot"
)

var (
	ErrLotNotFound = errors.New("lot not found")
	ErrNotStarted  = errors.New("lot has not reached its start time")
	ErrHubShutdown = errors.New("hub has shut down")
)

// Source supplies lot configuration at activation.
type Source interface {
	LoadLot(ctx context.Context, lotID int64) (lot.Config, error)
}

type HubMsg interface{ isHubMsg() }

type activateResult struct {
	arb *arbiter.Arbiter
	err error
}

type ActivateLot struct {
	LotID int64
	Reply chan activateResult
}

type GetLot struct {
	LotID int64
	Reply chan *arbiter.Arbiter
}

type RemoveLot struct{ LotID int64 }

type ShutdownHub struct{}

func (ActivateLot) isHubMsg() {}
func (GetLot) isHubMsg()      {}
func (RemoveLot) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	lots   map[int64]*arbiter.Arbiter
	source Source
	opts   arbiter.Options
	log    *zap.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, source Source, opts arbiter.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		lots:   make(map[int64]*arbiter.Arbiter),
		source: source,
		opts:   opts,
		log:    log,
		now:    now,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Activate brings a lot live, loading its configuration from the source.
// Activating a lot that is already live returns its arbiter unchanged.
func (h *Hub) Activate(ctx context.Context, lotID int64) (*arbiter.Arbiter, error) {
	reply := make(chan activateResult, 1)
	select {
	case h.inbox <- ActivateLot{LotID: lotID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubShutdown
	}
	select {
	case res := <-reply:
		return res.arb, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubShutdown
	}
}

// Get returns the live arbiter for a lot, or nil.
func (h *Hub) Get(ctx context.Context, lotID int64) (*arbiter.Arbiter, error) {
	reply := make(chan *arbiter.Arbiter, 1)
	select {
	case h.inbox <- GetLot{LotID: lotID, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubShutdown
	}
	select {
	case arb := <-reply:
		return arb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrHubShutdown
	}
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
	<-h.ctx.Done()
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case ActivateLot:
				msg.Reply <- h.activate(msg.LotID)

			case GetLot:
				msg.Reply <- h.lots[msg.LotID] // may be nil

			case RemoveLot:
				if arb := h.lots[msg.LotID]; arb != nil {
					arb.Inbox() <- arbiter.Shutdown{}
					delete(h.lots, msg.LotID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) activate(lotID int64) activateResult {
	if arb := h.lots[lotID]; arb != nil {
		return activateResult{arb: arb}
	}
	cfg, err := h.source.LoadLot(h.ctx, lotID)
	if err != nil {
		return activateResult{err: fmt.Errorf("load lot %d: %w", lotID, err)}
	}
	if h.now().Before(cfg.StartsAt) {
		return activateResult{err: ErrNotStarted}
	}
	arb, err := arbiter.New(h.ctx, cfg, h.opts)
	if err != nil {
		return activateResult{err: err}
	}
	h.lots[lotID] = arb
	h.log.Info("lot activated",
		zap.Int64("lot_id", lotID),
		zap.String("bid_method", string(cfg.Method)),
		zap.Time("closes_at", cfg.ClosesAt))
	return activateResult{arb: arb}
}

func (h *Hub) shutdown() {
	for id, arb := range h.lots {
		arb.Inbox() <- arbiter.Shutdown{}
		delete(h.lots, id)
	}
	h.cancel()
}
