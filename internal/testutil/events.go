// Package testutil provides shared test helpers for building events.
package testutil

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

// Fixed test key, so pubkeys are stable across runs.
const testPrivKeyHex = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"

// Signer produces valid signed events for tests.
type Signer struct {
	priv   *btcec.PrivateKey
	PubKey string
}

// NewSigner returns a signer for the fixed test key.
func NewSigner(t testing.TB) *Signer {
	t.Helper()
	return NewSignerFromHex(t, testPrivKeyHex)
}

// NewSignerFromHex returns a signer for the given private key.
func NewSignerFromHex(t testing.TB, privHex string) *Signer {
	t.Helper()
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &Signer{
		priv:   priv,
		PubKey: hex.EncodeToString(schnorr.SerializePubKey(pub)),
	}
}

// Sign fills in PubKey, ID and Sig of evt.
func (s *Signer) Sign(t testing.TB, evt types.Event) types.Event {
	t.Helper()
	evt.PubKey = s.PubKey
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.ID = nostr.ComputeEventID(&evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	sig, err := schnorr.Sign(s.priv, idBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return evt
}

// Note returns an unsigned-looking kind 1 event with a synthetic id; enough for
// code paths that never verify signatures (lanes, pipeline with fakes).
func Note(id string, createdAt int64, tags ...[]string) types.Event {
	if tags == nil {
		tags = [][]string{}
	}
	return types.Event{
		ID:        id,
		PubKey:    "pk-" + id,
		CreatedAt: createdAt,
		Kind:      types.KindTextNote,
		Tags:      tags,
	}
}
