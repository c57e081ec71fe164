package nostr

import (
	"nostr-lanes/internal/types"
	"nostr-lanes/internal/util"
)

// NIP-10 markers
const (
	MarkerReply   = "reply"
	MarkerRoot    = "root"
	MarkerMention = "mention"
)

// RepliesTo finds the event id the given event replies to (NIP-10).
// A marked "reply" e-tag wins. Otherwise the positional convention applies
// to unmarked e-tags: a single one is the parent, with several the last is.
func RepliesTo(evt *types.Event) (string, bool) {
	for _, tag := range evt.Tags {
		if len(tag) >= 4 && tag[0] == "e" && tag[1] != "" && tag[3] == MarkerReply {
			return tag[1], true
		}
	}

	var last string
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		if len(tag) >= 4 && tag[3] != "" {
			continue
		}
		last = tag[1]
	}
	return last, last != ""
}

// ReactsTo returns the event a reaction targets: the last e-tag (NIP-25)
func ReactsTo(evt *types.Event) (string, bool) {
	id := util.GetLastTagValue(evt.Tags, "e")
	return id, id != ""
}

// Client returns the name of the client that produced the event, if tagged
func Client(evt *types.Event) (string, bool) {
	name := util.GetTagValue(evt.Tags, "client")
	return name, name != ""
}

// CollectRelays returns the normalized, deduplicated relay URLs mentioned in
// the event's tags: relay hints of e/p/a tags and r/relay tags.
func CollectRelays(evt *types.Event) []string {
	seen := make(map[string]bool)
	var relays []string

	add := func(raw string) {
		if u := NormalizeRelayURL(raw); u != "" && !seen[u] {
			seen[u] = true
			relays = append(relays, u)
		}
	}

	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e", "p", "a":
			if len(tag) >= 3 {
				add(tag[2])
			}
		case "r", "relay":
			add(tag[1])
		}
	}
	return relays
}
