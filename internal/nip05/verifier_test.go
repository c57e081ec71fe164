package nip05

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const alicePK = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wellKnownServer(t *testing.T, body string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/nostr.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func TestHTTPVerifier_Lookup(t *testing.T) {
	_, domain := wellKnownServer(t, `{
		"names": {"Alice": "`+strings.ToUpper(alicePK)+`", "_": "`+alicePK+`"},
		"relays": {"`+alicePK+`": ["wss://relay.example.com/", "https://not-a-relay.example"]}
	}`)
	v := NewHTTPVerifier(time.Second, discardLogger(), WithInsecureLocal())
	ctx := context.Background()

	res := v.Lookup(ctx, alicePK, "alice@"+domain)
	require.True(t, res.Verified)
	require.Equal(t, alicePK, res.Pubkey)
	require.Equal(t, "alice@"+domain, res.Domain)
	require.Equal(t, []string{"wss://relay.example.com"}, res.Relays)

	root := v.Lookup(ctx, alicePK, "_@"+domain)
	require.True(t, root.Verified)
	require.Equal(t, domain, root.Domain)

	require.False(t, v.Verify(ctx, strings.Repeat("0", 64), "alice@"+domain), "pubkey mismatch")
	require.False(t, v.Verify(ctx, alicePK, "bob@"+domain), "unknown name")
}

func TestHTTPVerifier_Failures(t *testing.T) {
	_, badJSON := wellKnownServer(t, `{"names": `)
	notFound := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(notFound.Close)

	v := NewHTTPVerifier(time.Second, discardLogger(), WithInsecureLocal())
	ctx := context.Background()

	require.False(t, v.Verify(ctx, alicePK, "alice@"+badJSON))
	require.False(t, v.Verify(ctx, alicePK, "alice@"+strings.TrimPrefix(notFound.URL, "http://")))
	require.False(t, v.Verify(ctx, alicePK, "no-at-sign"))
	require.False(t, v.Verify(ctx, alicePK, "alice@evil.example/path"))
}

func TestHTTPVerifier_BlocksPrivateHosts(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	t.Cleanup(srv.Close)

	v := NewHTTPVerifier(time.Second, discardLogger())
	require.False(t, v.Verify(context.Background(), alicePK, "alice@"+strings.TrimPrefix(srv.URL, "http://")))
	require.False(t, v.Verify(context.Background(), alicePK, "alice@printer.local"))
	require.False(t, hit)
}

func TestWellKnownURL(t *testing.T) {
	require.Equal(t, "https://example.com/.well-known/nostr.json?name=bob", WellKnownURL("Bob@Example.com"))
	require.Empty(t, WellKnownURL("example.com"))
}
