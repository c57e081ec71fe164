package nostr

import (
	"encoding/json"
	"fmt"

	"nostr-lanes/internal/types"
)

// ParseMetadata decodes the content of a kind 0 event
func ParseMetadata(evt *types.Event) (*types.ProfileInfo, error) {
	var profile types.ProfileInfo
	if err := json.Unmarshal([]byte(evt.Content), &profile); err != nil {
		return nil, fmt.Errorf("nostr: parse metadata %s: %w", ShortID(evt.ID), err)
	}
	return &profile, nil
}

// PersonaFromMetadata projects a metadata event into a Persona.
// Malformed picture/banner URLs are treated as absent. Nip05Verified is left
// for the caller to fill in.
func PersonaFromMetadata(evt *types.Event) (*types.Persona, error) {
	profile, err := ParseMetadata(evt)
	if err != nil {
		return nil, err
	}

	name := profile.Name
	if name == "" {
		name = profile.DisplayName
	}

	return &types.Persona{
		PubKey:       evt.PubKey,
		Name:         name,
		Avatar:       ParseHTTPURL(profile.Picture),
		Banner:       ParseHTTPURL(profile.Banner),
		About:        profile.About,
		Nip05:        profile.Nip05,
		MetadataJSON: ToJSON(evt),
	}, nil
}
