package server

import (
	"nostr-lanes/internal/lane"
	"nostr-lanes/internal/nips"
	"nostr-lanes/internal/types"
)

type laneSummary struct {
	Name    string `json:"name"`
	Central string `json:"central,omitempty"`
	Notes   int    `json:"notes"`
}

type laneResponse struct {
	Name    string         `json:"name"`
	Central string         `json:"central,omitempty"`
	Notes   []noteResponse `json:"notes"`
}

type noteResponse struct {
	Position  int            `json:"position"`
	Event     types.Event    `json:"event"`
	Relays    []string       `json:"relays"`
	Author    *types.Persona `json:"author,omitempty"`
	Avatar    string         `json:"avatar,omitempty"`
	Client    string         `json:"client,omitempty"`
	Central   bool           `json:"central,omitempty"`
	Verified  bool           `json:"verified"`
	Replies   []string       `json:"replies"`
	Reactions []string       `json:"reactions"`
}

type relaysResponse struct {
	Relays      []string `json:"relays"`
	Connections int      `json:"connections"`
	Known       int      `json:"known"` // relays ever seen, including tag hints
}

func toLaneResponse(s lane.Snapshot) laneResponse {
	resp := laneResponse{
		Name:    s.Name,
		Central: s.Central,
		Notes:   make([]noteResponse, 0, len(s.Notes)),
	}
	for i, n := range s.Notes {
		resp.Notes = append(resp.Notes, noteResponse{
			Position:  i,
			Event:     n.Event,
			Relays:    nonNil(n.Relays),
			Author:    n.Author,
			Avatar:    n.Avatar,
			Client:    n.Client,
			Central:   n.Central,
			Verified:  n.Verified,
			Replies:   nonNil(n.Replies),
			Reactions: nonNil(n.Reactions),
		})
	}
	return resp
}

type personaResponse struct {
	*types.Persona
	Npub string `json:"npub,omitempty"`
}

func toPersonaResponse(p *types.Persona) personaResponse {
	npub, _ := nips.EncodePubkey(p.PubKey)
	return personaResponse{Persona: p, Npub: npub}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
