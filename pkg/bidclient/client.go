// Package bidclient is the consumer-side subscription handle for a lot's
// live event stream. It owns its transport lifecycle explicitly
// (Connect/Close), reconnects with bounded exponential backoff, and relies
// on the server's snapshot-on-subscribe to resynchronize after a drop, so
// it never needs to replay missed deltas.
package bidclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/koi-auction/bidding-engine/pkg/types"
)

var ErrNotConnected = errors.New("bidclient: not connected")

type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

type Handler func(types.LotEvent)

type Options struct {
	// MinBackoff/MaxBackoff bound the reconnect delay. Defaults 250ms/10s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState is invoked on connect/reconnect/close transitions.
	OnState func(State)
}

type Session struct {
	baseURL string
	lotID   int64
	opts    Options
	rng     *rand.Rand

	mu      sync.Mutex
	handler Handler
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New prepares a session for one lot. baseURL is the server root, e.g.
// "ws://localhost:8080".
func New(baseURL string, lotID int64, opts Options) *Session {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		lotID:   lotID,
		opts:    opts,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnEvent sets the event handler. Set it before Connect.
func (s *Session) OnEvent(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Connect dials the lot stream and starts the read loop. The first event
// is always the server's Snapshot. The loop keeps reconnecting until ctx
// is cancelled or Close is called.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("bidclient: already connected")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	conn, err := s.dial(runCtx)
	if err != nil {
		cancel()
		close(s.done)
		s.mu.Lock()
		s.started = false
		s.cancel = nil
		s.mu.Unlock()
		return err
	}
	s.setConn(conn)
	s.notify(StateConnected)

	go s.run(runCtx, conn)
	return nil
}

// PlaceBid submits a bid over the live socket. The verdict arrives as a
// BidResult frame on the stream.
func (s *Session) PlaceBid(ctx context.Context, bidderID, amount int64, idempotencyKey string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(types.ClientMessage{
		Type:           "PlaceBid",
		BidderID:       bidderID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// Close tears the session down and releases the server-side subscriber.
func (s *Session) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer s.notify(StateClosed)
	for {
		s.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
		s.setConn(nil)
		if ctx.Err() != nil {
			return
		}

		s.notify(StateReconnecting)
		next, err := s.redial(ctx)
		if err != nil {
			return
		}
		conn = next
		s.setConn(conn)
		s.notify(StateConnected)
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev types.LotEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case types.EventSnapshot, types.EventBidAccepted, types.EventClockExtended, types.EventLotEnded:
		default:
			// BidResult / Error frames share the socket; only lot events
			// reach the handler.
			continue
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

func (s *Session) redial(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 0; ; attempt++ {
		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u := fmt.Sprintf("%s/ws?lot_id=%s", s.baseURL, url.QueryEscape(strconv.FormatInt(s.lotID, 10)))
	conn, _, err := websocket.Dial(ctx, u, nil)
	return conn, err
}

// backoff returns the delay before reconnect attempt n: exponential from
// MinBackoff, capped at MaxBackoff, with half-range jitter.
func (s *Session) backoff(attempt int) time.Duration {
	d := s.opts.MinBackoff << uint(attempt)
	if d <= 0 || d > s.opts.MaxBackoff {
		d = s.opts.MaxBackoff
	}
	half := d / 2
	s.mu.Lock()
	jitter := time.Duration(s.rng.Int63n(int64(half) + 1))
	s.mu.Unlock()
	return half + jitter
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) notify(st State) {
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}
