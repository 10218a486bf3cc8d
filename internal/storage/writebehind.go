package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/koi-auction/bidding-engine/internal/obs"
	"github.com/koi-auction/bidding-engine/pkg/types"
)

// writer is what the sink flushes to. *DB implements it; tests substitute
// a fake.
type writer interface {
	saveBid(ctx context.Context, rec types.BidRecord) error
	saveLotState(ctx context.Context, s types.LotState) error
}

type op struct {
	bid   *types.BidRecord
	state *types.LotState
}

// Sink is the write-behind persistence queue. SaveBid/SaveLotState never
// block the caller: the arbiter enqueues inside its critical section and
// a single worker flushes with retries. A full queue drops the op with an
// error log rather than stalling arbitration; the in-memory state stays
// authoritative either way.
type Sink struct {
	queue   chan op
	w       writer
	log     *zap.Logger
	metrics *obs.Metrics

	maxAttempts int
	backoff     time.Duration

	quit chan struct{}
	done chan struct{}
}

func NewSink(db *DB, log *zap.Logger, metrics *obs.Metrics) *Sink {
	return newSink(db, log, metrics)
}

func newSink(w writer, log *zap.Logger, metrics *obs.Metrics) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Sink{
		queue:       make(chan op, 1024),
		w:           w,
		log:         log,
		metrics:     metrics,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Sink) SaveBid(rec types.BidRecord) {
	s.enqueue(op{bid: &rec})
}

func (s *Sink) SaveLotState(state types.LotState) {
	s.enqueue(op{state: &state})
}

func (s *Sink) enqueue(o op) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.queue <- o:
	default:
		s.log.Error("persistence queue full, dropping write",
			zap.Bool("is_bid", o.bid != nil))
	}
}

// Close stops the worker after draining whatever is buffered. Call only
// after the hub has shut down every arbiter.
func (s *Sink) Close() {
	close(s.quit)
	<-s.done
}

func (s *Sink) worker() {
	for {
		select {
		case o := <-s.queue:
			s.flush(o)
		case <-s.quit:
			for {
				select {
				case o := <-s.queue:
					s.flush(o)
				default:
					close(s.done)
					return
				}
			}
		}
	}
}

func (s *Sink) flush(o op) {
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if o.bid != nil {
			err = s.w.saveBid(ctx, *o.bid)
		} else {
			err = s.w.saveLotState(ctx, *o.state)
		}
		cancel()
		if err == nil {
			return
		}
		if attempt >= s.maxAttempts {
			s.log.Error("persist failed, giving up",
				zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		if s.metrics != nil {
			s.metrics.PersistRetries.Inc()
		}
		s.log.Warn("persist failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(delay)
		delay *= 2
	}
}
