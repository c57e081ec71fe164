// Package nostr holds NIP-01/NIP-10/NIP-25 helpers over types.Event:
// decoding relay payloads, id and signature checks, and tag conventions.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-lanes/internal/types"
)

// ComputeEventID returns the NIP-01 id: sha256 of [0,pubkey,created_at,kind,tags,content].
// HTML characters must stay unescaped, so json.Marshal is not used.
func ComputeEventID(evt *types.Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{0, evt.PubKey, evt.CreatedAt, evt.Kind, tags, evt.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(serialized); err != nil {
		return ""
	}

	hash := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(hash[:])
}

// ValidateEventSignature verifies the Schnorr signature over the event id
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// ParseEventFromInterface converts the third element of an EVENT message
// into an Event. Returns false for anything that is not a well-formed,
// correctly hashed and signed event.
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	evt.Tags = [][]string{}
	if tags, ok := m["tags"].([]interface{}); ok {
		for _, tag := range tags {
			tagArr, ok := tag.([]interface{})
			if !ok {
				continue
			}
			strTag := make([]string, 0, len(tagArr))
			for _, elem := range tagArr {
				if s, ok := elem.(string); ok {
					strTag = append(strTag, s)
				}
			}
			evt.Tags = append(evt.Tags, strTag)
		}
	}

	if evt.ID == "" {
		return types.Event{}, false
	}
	if ComputeEventID(&evt) != evt.ID {
		slog.Debug("event id mismatch", "event_id", ShortID(evt.ID))
		return types.Event{}, false
	}
	if !ValidateEventSignature(&evt) {
		slog.Warn("event signature validation failed", "event_id", ShortID(evt.ID))
		return types.Event{}, false
	}

	return evt, true
}

// ToJSON serializes an event the way it travels on the wire
func ToJSON(evt *types.Event) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(evt); err != nil {
		return ""
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
