package nostr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

func TestRepliesTo(t *testing.T) {
	tests := []struct {
		name   string
		tags   [][]string
		want   string
		wantOK bool
	}{
		{
			name:   "no tags",
			tags:   nil,
			wantOK: false,
		},
		{
			name:   "marked reply wins over positional",
			tags:   [][]string{{"e", "root", "", "root"}, {"e", "parent", "wss://r.example", "reply"}, {"e", "later"}},
			want:   "parent",
			wantOK: true,
		},
		{
			name:   "single plain e-tag",
			tags:   [][]string{{"p", "someone"}, {"e", "only"}},
			want:   "only",
			wantOK: true,
		},
		{
			name:   "several plain e-tags take the last",
			tags:   [][]string{{"e", "first"}, {"e", "middle", "wss://r.example"}, {"e", "last"}},
			want:   "last",
			wantOK: true,
		},
		{
			name:   "root marker alone is not a reply target",
			tags:   [][]string{{"e", "root", "", "root"}},
			wantOK: false,
		},
		{
			name:   "mention markers are skipped by positional rule",
			tags:   [][]string{{"e", "plain"}, {"e", "mentioned", "", "mention"}},
			want:   "plain",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &types.Event{Tags: tt.tags}
			got, ok := nostr.RepliesTo(evt)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestReactsTo(t *testing.T) {
	evt := &types.Event{Kind: types.KindReaction, Tags: [][]string{{"e", "a"}, {"p", "x"}, {"e", "b"}}}
	id, ok := nostr.ReactsTo(evt)
	require.True(t, ok)
	require.Equal(t, "b", id)

	_, ok = nostr.ReactsTo(&types.Event{Kind: types.KindReaction, Tags: [][]string{{"p", "x"}}})
	require.False(t, ok)
}

func TestClient(t *testing.T) {
	name, ok := nostr.Client(&types.Event{Tags: [][]string{{"client", "gossip"}}})
	require.True(t, ok)
	require.Equal(t, "gossip", name)

	_, ok = nostr.Client(&types.Event{})
	require.False(t, ok)
}

func TestCollectRelays(t *testing.T) {
	evt := &types.Event{Tags: [][]string{
		{"e", "id1", "wss://Relay.Example.com/"},
		{"p", "pk", "wss://relay.example.com"},
		{"e", "id2", ""},
		{"r", "wss://other.example.org"},
		{"r", "https://not-a-relay.example"},
		{"p", "pk2", "wss://hidden.onion"},
	}}

	require.Equal(t, []string{"wss://relay.example.com", "wss://other.example.org"}, nostr.CollectRelays(evt))
}
