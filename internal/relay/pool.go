// Package relay keeps persistent subscriptions to a set of Nostr relays and
// publishes everything they send as a stream of notifications.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/types"
	"nostr-lanes/internal/util"
)

var (
	// ErrUnknownRelay is returned for requests to a relay the pool does not manage.
	ErrUnknownRelay = errors.New("relay: unknown relay")
	// ErrNotConnected is returned when a managed relay is between connections.
	ErrNotConnected = errors.New("relay: not connected")
)

// MessageType tells what a relay sent.
type MessageType int

const (
	MessageEvent MessageType = iota
	MessageEOSE
	MessageNotice
	MessageClosed
)

func (t MessageType) String() string {
	switch t {
	case MessageEvent:
		return "EVENT"
	case MessageEOSE:
		return "EOSE"
	case MessageNotice:
		return "NOTICE"
	case MessageClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Notification is one message received from a relay. Event is set only for
// MessageEvent, and only for events whose id and signature check out.
type Notification struct {
	Type    MessageType
	Relay   string
	SubID   string
	Event   *types.Event
	Message string
}

// Options configures a Pool.
type Options struct {
	Relays           []string
	Kinds            []int         // kinds of the persistent subscription
	InitialLimit     int           // backlog requested on each (re)connect
	ReconnectDelay   time.Duration // delay before reconnecting on disconnect
	SubscriberBuffer int
	Dialer           *websocket.Dialer
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Kinds:            []int{types.KindMetadata, types.KindTextNote, types.KindReaction},
		InitialLimit:     100,
		ReconnectDelay:   5 * time.Second,
		SubscriberBuffer: 256,
	}
}

type managedRelay struct {
	cancel context.CancelFunc
	conn   *Conn // nil while disconnected
}

// Pool manages connections to multiple relays
type Pool struct {
	opts   Options
	logger *slog.Logger
	bc     *broadcaster

	mu      sync.Mutex
	relays  map[string]*managedRelay
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewPool creates a pool. Relays start connecting when Run is called.
func NewPool(opts Options) *Pool {
	def := DefaultOptions()
	if len(opts.Kinds) == 0 {
		opts.Kinds = def.Kinds
	}
	if opts.InitialLimit <= 0 {
		opts.InitialLimit = def.InitialLimit
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = def.SubscriberBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Pool{
		opts:   opts,
		logger: opts.Logger,
		bc:     newBroadcaster(opts.SubscriberBuffer, opts.Metrics),
		relays: make(map[string]*managedRelay),
	}
	for _, u := range opts.Relays {
		p.relays[u] = &managedRelay{}
	}
	return p
}

// Subscribe returns a channel receiving every notification from every relay
// and a func that ends the subscription.
func (p *Pool) Subscribe() (<-chan Notification, func()) {
	return p.bc.subscribe()
}

// Run connects to all relays and keeps them connected until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	p.baseCtx = ctx
	for u, mr := range p.relays {
		p.startLocked(u, mr)
	}
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	for _, mr := range p.relays {
		if mr.cancel != nil {
			mr.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.bc.closeAll()
	return nil
}

// SetRelays replaces the relay set: new relays are connected, dropped ones closed.
func (p *Pool) SetRelays(urls []string) {
	want := make(map[string]bool, len(urls))
	for _, u := range urls {
		want[u] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for u, mr := range p.relays {
		if !want[u] {
			if mr.cancel != nil {
				mr.cancel()
			}
			delete(p.relays, u)
			p.logger.Info("relay: removed", "relay", u)
		}
	}
	for u := range want {
		if _, ok := p.relays[u]; ok {
			continue
		}
		mr := &managedRelay{}
		p.relays[u] = mr
		p.logger.Info("relay: added", "relay", u)
		if p.baseCtx != nil && p.baseCtx.Err() == nil {
			p.startLocked(u, mr)
		}
	}
}

// Relays lists the managed relay URLs, sorted.
func (p *Pool) Relays() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.relays))
	for u := range p.relays {
		out = append(out, u)
	}
	p.mu.Unlock()
	return util.SortedCopy(out)
}

// Connections returns the number of relays currently connected.
func (p *Pool) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, mr := range p.relays {
		if mr.conn != nil {
			n++
		}
	}
	return n
}

// RequestEvents sends a subscription for filters to relay. The relay is told
// to close it once validity has elapsed; matching events arrive as ordinary
// notifications.
func (p *Pool) RequestEvents(ctx context.Context, relay string, filters []types.Filter, validity time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	mr, ok := p.relays[relay]
	var conn *Conn
	if ok {
		conn = mr.conn
	}
	p.mu.Unlock()

	if !ok {
		return ErrUnknownRelay
	}
	if conn == nil {
		return ErrNotConnected
	}

	subID, err := conn.requestFor(filters, validity)
	if err != nil {
		return err
	}
	p.logger.Debug("relay: request sent", "relay", relay, "sub_id", subID, "validity", validity)
	return nil
}

func (p *Pool) startLocked(relayURL string, mr *managedRelay) {
	ctx, cancel := context.WithCancel(p.baseCtx)
	mr.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintain(ctx, relayURL, mr)
	}()
}

// maintain keeps a persistent subscription to one relay, reconnecting after
// ReconnectDelay whenever the connection drops.
func (p *Pool) maintain(ctx context.Context, relayURL string, mr *managedRelay) {
	for {
		if err := p.runConnection(ctx, relayURL, mr); err != nil && ctx.Err() == nil {
			p.logger.Warn("relay: connection lost", "relay", relayURL, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.ReconnectDelay):
		}
	}
}

func (p *Pool) runConnection(ctx context.Context, relayURL string, mr *managedRelay) error {
	if !isRelayURLSafe(relayURL) {
		return errors.New("relay URL blocked: unsafe destination")
	}

	conn, err := dial(ctx, p.opts.Dialer, relayURL, p.publish, p.logger)
	if err != nil {
		return err
	}
	defer conn.close()

	subID := newSubID("live")
	filter := types.Filter{Kinds: p.opts.Kinds, Limit: p.opts.InitialLimit}
	if err := conn.req(subID, []types.Filter{filter}); err != nil {
		return err
	}

	p.mu.Lock()
	mr.conn = conn
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		mr.conn = nil
		p.mu.Unlock()
	}()

	p.logger.Info("relay: subscribed", "relay", relayURL, "sub_id", subID)
	return conn.readLoop(ctx, subID)
}

func (p *Pool) publish(n Notification) {
	p.opts.Metrics.IncNotificationReceived()
	p.bc.publish(n)
}
