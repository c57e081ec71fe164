// Package stream turns the relay notification stream into enriched records:
// relay provenance is recorded, events are classified by kind and enriched
// with persisted profile data, cached avatars and NIP-05 status.
package stream

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"nostr-lanes/internal/feedback"
	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/nip05"
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/relay"
	"nostr-lanes/internal/types"
)

// DefaultConcurrency bounds the number of events enriched at the same time.
const DefaultConcurrency = 64

// Source delivers relay notifications.
type Source interface {
	Subscribe() (<-chan relay.Notification, func())
}

// Gateway is the persistence the pipeline needs. The verification
// timestamp operations come from nip05.Store.
type Gateway interface {
	UpsertRelay(ctx context.Context, url string) error
	StoreEvent(ctx context.Context, relay string, evt *types.Event) error
	RelaysFor(ctx context.Context, eventID string) ([]string, error)
	UpsertMetadata(ctx context.Context, pubkey, rawEvent string) error
	GetPersona(ctx context.Context, pubkey string) (*types.Persona, error)
	nip05.Store
}

// Resources resolves remote resources to local files.
type Resources interface {
	FetchOrGetCached(ctx context.Context, url string) (string, error)
}

// Feedback accepts requests for the relays without blocking.
type Feedback interface {
	Offer(req feedback.Request) bool
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Gateway     Gateway
	Resources   Resources
	Identity    nip05.Verifier // usually a *nip05.Checker
	Feedback    Feedback
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Pipeline enriches relay notifications.
type Pipeline struct {
	gateway     Gateway
	resources   Resources
	identity    nip05.Verifier
	feedback    Feedback
	concurrency int64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	if deps.Concurrency <= 0 {
		deps.Concurrency = DefaultConcurrency
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		gateway:     deps.Gateway,
		resources:   deps.Resources,
		identity:    deps.Identity,
		feedback:    deps.Feedback,
		concurrency: int64(deps.Concurrency),
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
}

// Start subscribes to src and runs the pipeline until ctx is done.
func (p *Pipeline) Start(ctx context.Context, src Source) <-chan types.Record {
	in, unsubscribe := src.Subscribe()
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return p.Run(ctx, in)
}

// Run consumes in until it is closed or ctx is done and returns the records,
// in completion order. The returned channel is closed once every in-flight
// event has been handled.
func (p *Pipeline) Run(ctx context.Context, in <-chan relay.Notification) <-chan types.Record {
	out := make(chan types.Record)

	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(p.concurrency)
		var wg sync.WaitGroup
		defer wg.Wait()

		for {
			var n relay.Notification
			var ok bool
			select {
			case <-ctx.Done():
				return
			case n, ok = <-in:
				if !ok {
					return
				}
			}

			if n.Type != relay.MessageEvent || n.Event == nil {
				continue
			}

			p.offerRelays(ctx, n.Relay, n.Event)

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(relayURL string, evt *types.Event) {
				defer wg.Done()
				defer sem.Release(1)

				rec, ok := p.receivedEvent(ctx, relayURL, evt)
				if !ok {
					p.metrics.IncEventDiscarded()
					return
				}
				select {
				case out <- rec:
				case <-ctx.Done():
				}
			}(n.Relay, n.Event)
		}
	}()

	return out
}

// offerRelays records the delivering relay and the relays named in the tags.
func (p *Pipeline) offerRelays(ctx context.Context, relayURL string, evt *types.Event) {
	p.offerRelayURL(ctx, relayURL)
	for _, r := range nostr.CollectRelays(evt) {
		p.offerRelayURL(ctx, r)
	}
}

func (p *Pipeline) offerRelayURL(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if err := p.gateway.UpsertRelay(ctx, url); err != nil {
		p.logger.Debug("stream: upsert relay failed", "relay", url, "error", err)
	}
}

func (p *Pipeline) receivedEvent(ctx context.Context, relayURL string, evt *types.Event) (types.Record, bool) {
	switch evt.Kind {
	case types.KindTextNote:
		p.metrics.IncTextNote()
		return p.receivedTextNote(ctx, relayURL, evt), true

	case types.KindMetadata:
		rec, ok := p.receivedMetadata(ctx, evt)
		if ok {
			p.metrics.IncMetadataUpdate()
		}
		return rec, ok

	case types.KindReaction:
		target, ok := nostr.ReactsTo(evt)
		if !ok {
			return nil, false
		}
		p.metrics.IncReaction()
		return types.Reaction{EventID: target, Content: evt.Content}, true
	}
	return nil, false
}
