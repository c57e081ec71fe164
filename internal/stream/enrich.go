package stream

import (
	"context"

	"nostr-lanes/internal/feedback"
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

func (p *Pipeline) receivedTextNote(ctx context.Context, relayURL string, evt *types.Event) types.TextNote {
	if err := p.gateway.StoreEvent(ctx, relayURL, evt); err != nil {
		p.logger.Warn("stream: store event failed", "event_id", nostr.ShortID(evt.ID), "error", err)
	}

	author, err := p.gateway.GetPersona(ctx, evt.PubKey)
	if err != nil {
		p.logger.Warn("stream: get persona failed", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
		author = nil
	}

	var avatar string
	switch {
	case author != nil && author.Avatar != "":
		avatar = p.resolve(ctx, author.Avatar)
	case author != nil:
		// known author without a picture
	default:
		// Unknown author: ask the relay that delivered the note
		req := feedback.NeedMetadata{Relay: relayURL, PubKey: evt.PubKey}
		if !p.feedback.Offer(req) {
			p.logger.Debug("stream: feedback queue full, metadata request dropped",
				"relay", relayURL, "pubkey", nostr.ShortID(evt.PubKey))
		}
	}

	relays, err := p.gateway.RelaysFor(ctx, evt.ID)
	if err != nil {
		p.logger.Warn("stream: relays for event failed", "event_id", nostr.ShortID(evt.ID), "error", err)
	}

	return types.TextNote{
		Event:  *evt,
		Relays: relays,
		Author: author,
		Avatar: avatar,
	}
}

func (p *Pipeline) receivedMetadata(ctx context.Context, evt *types.Event) (types.Record, bool) {
	// last received wins, whatever its created_at
	if err := p.gateway.UpsertMetadata(ctx, evt.PubKey, nostr.ToJSON(evt)); err != nil {
		p.logger.Warn("stream: upsert metadata failed", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
	}

	persona, err := nostr.PersonaFromMetadata(evt)
	if err != nil {
		p.logger.Info("stream: malformed metadata dropped", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
		return nil, false
	}

	var avatar string
	if persona.Avatar != "" {
		avatar = p.resolve(ctx, persona.Avatar)
	}

	if persona.Nip05 != "" {
		persona.Nip05Verified = p.identity.Verify(ctx, evt.PubKey, persona.Nip05)
	}

	return types.MetadataUpdate{Persona: *persona, Avatar: avatar}, true
}

// resolve returns the local file of url, or "" when it cannot be fetched.
func (p *Pipeline) resolve(ctx context.Context, url string) string {
	path, err := p.resources.FetchOrGetCached(ctx, url)
	if err != nil {
		p.logger.Debug("stream: resource unavailable", "url", url, "error", err)
		return ""
	}
	return path
}
