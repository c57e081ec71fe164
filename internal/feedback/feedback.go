// Package feedback carries requests from the enrichment side back to the
// relays: a bounded, never-blocking channel and the single dispatcher that
// drains it.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

const (
	DefaultCapacity = 10
	// DefaultValidity bounds how long a relay keeps a feedback subscription open.
	DefaultValidity = 10 * time.Second
)

// Request is something the pipeline wants fetched from a relay.
type Request interface {
	request()
}

// NeedMetadata asks relay for the latest metadata event of PubKey.
type NeedMetadata struct {
	Relay  string
	PubKey string
}

func (NeedMetadata) request() {}

// Channel is a bounded queue of requests. Offer never blocks.
type Channel struct {
	mu      sync.RWMutex
	ch      chan Request
	closed  bool
	metrics *metrics.Metrics
}

// NewChannel creates a channel holding up to capacity requests.
func NewChannel(capacity int, m *metrics.Metrics) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{ch: make(chan Request, capacity), metrics: m}
}

// Offer enqueues req. It returns false when the channel is full or closed;
// callers treat that as best-effort and move on.
func (c *Channel) Offer(req Request) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.metrics.IncFeedback(false)
		return false
	}
	select {
	case c.ch <- req:
		c.metrics.IncFeedback(true)
		return true
	default:
		c.metrics.IncFeedback(false)
		return false
	}
}

// Requests is the receiving side, for the dispatcher.
func (c *Channel) Requests() <-chan Request {
	return c.ch
}

// Len reports the number of queued requests.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Close stops accepting requests. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Requester sends a time-bounded subscription to one relay.
type Requester interface {
	RequestEvents(ctx context.Context, relay string, filters []types.Filter, validity time.Duration) error
}

// Dispatcher turns queued requests into relay subscriptions. Requests for
// the same pubkey are not deduplicated.
type Dispatcher struct {
	channel   *Channel
	requester Requester
	validity  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. validity <= 0 selects DefaultValidity.
func NewDispatcher(channel *Channel, requester Requester, validity time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Dispatcher{
		channel:   channel,
		requester: requester,
		validity:  validity,
		metrics:   m,
		logger:    logger,
	}
}

// Run drains the channel until it is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-d.channel.Requests():
			if !ok {
				return
			}
			d.handle(ctx, req)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, req Request) {
	switch r := req.(type) {
	case NeedMetadata:
		filter := types.Filter{
			Kinds:   []int{types.KindMetadata},
			Authors: []string{r.PubKey},
			Limit:   1,
		}
		err := d.requester.RequestEvents(ctx, r.Relay, []types.Filter{filter}, d.validity)
		if err != nil {
			d.logger.Warn("feedback: metadata request failed",
				"relay", r.Relay,
				"pubkey", nostr.ShortID(r.PubKey),
				"error", err)
			return
		}
		d.metrics.IncFeedbackSent()
		d.logger.Debug("feedback: requested metadata", "relay", r.Relay, "pubkey", nostr.ShortID(r.PubKey))
	default:
		d.logger.Warn("feedback: unknown request", "type", fmt.Sprintf("%T", req))
	}
}
