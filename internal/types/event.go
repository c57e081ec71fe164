// Package types provides shared type definitions used across internal packages.
package types

// Event kinds handled by the pipeline
const (
	KindMetadata = 0
	KindTextNote = 1
	KindReaction = 7
)

// Event represents a Nostr event (NIP-01). Never mutated after receipt.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	ETags   []string // #e tag filter (replies, reactions)
	PTags   []string // #p tag filter (mentions)
}

// ToMap renders the filter as the JSON object sent inside a REQ
func (f Filter) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if len(f.ETags) > 0 {
		m["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		m["#p"] = f.PTags
	}
	return m
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
