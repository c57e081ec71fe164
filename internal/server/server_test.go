package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nostr-lanes/internal/lane"
	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/nips"
	"nostr-lanes/internal/server"
	"nostr-lanes/internal/testutil"
	"nostr-lanes/internal/types"
)

type fakeRelays struct {
	urls  []string
	conns int
}

func (f fakeRelays) Relays() []string { return f.urls }
func (f fakeRelays) Connections() int { return f.conns }

type fakeStore map[string]*types.Persona

func (f fakeStore) GetPersona(_ context.Context, pubkey string) (*types.Persona, error) {
	if pubkey == strings.Repeat("e", 64) {
		return nil, errors.New("database is locked")
	}
	return f[pubkey], nil
}

func (f fakeStore) CountRelays(context.Context) (int, error) {
	return 5, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	router  http.Handler
	records chan types.Record
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, relays fakeRelays) *env {
	t.Helper()

	global := lane.NewView("global", "", 0, nil, discardLogger())
	thread := lane.NewView("thread", "b", 0, nil, discardLogger())
	hub := lane.NewHub(discardLogger(), global, thread)

	ctx, cancel := context.WithCancel(context.Background())
	records := make(chan types.Record, 8)
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx, records)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	m := metrics.New(nil)
	pk := strings.Repeat("a", 64)
	router := server.NewRouter(server.Deps{
		Lanes:   hub,
		Relays:  relays,
		Store:   fakeStore{pk: {PubKey: pk, Name: "alice"}},
		Metrics: m,
		Logger:  discardLogger(),
	})
	return &env{router: router, records: records, metrics: m}
}

func (e *env) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t, fakeRelays{conns: 0})
	require.Equal(t, http.StatusOK, e.get(t, "/health/live").Code)
	require.Equal(t, http.StatusServiceUnavailable, e.get(t, "/health/ready").Code)

	e = newEnv(t, fakeRelays{conns: 2})
	require.Equal(t, http.StatusOK, e.get(t, "/health/ready").Code)
}

func TestLanes(t *testing.T) {
	e := newEnv(t, fakeRelays{})

	e.records <- types.TextNote{Event: testutil.Note("a", 20), Relays: []string{"wss://nos.lol"}}
	e.records <- types.TextNote{Event: testutil.Note("b", 10)}
	e.records <- types.TextNote{Event: testutil.Note("c", 30, []string{"e", "a"})}
	e.records <- types.Reaction{EventID: "a", Content: "+"}

	type note struct {
		Position  int                 `json:"position"`
		Event     struct{ ID string } `json:"event"`
		Relays    []string            `json:"relays"`
		Central   bool                `json:"central"`
		Replies   []string            `json:"replies"`
		Reactions []string            `json:"reactions"`
	}
	type laneBody struct {
		Name    string `json:"name"`
		Central string `json:"central"`
		Notes   []note `json:"notes"`
	}

	var body laneBody
	require.Eventually(t, func() bool {
		rec := e.get(t, "/lanes/global")
		if rec.Code != http.StatusOK {
			return false
		}
		body = decode[laneBody](t, rec)
		return len(body.Notes) == 3 && len(body.Notes[1].Reactions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, "global", body.Name)
	require.Equal(t, "b", body.Notes[0].Event.ID)
	require.Equal(t, "a", body.Notes[1].Event.ID)
	require.Equal(t, 1, body.Notes[1].Position)
	require.Equal(t, []string{"wss://nos.lol"}, body.Notes[1].Relays)
	require.Equal(t, []string{"c"}, body.Notes[1].Replies)
	require.Equal(t, []string{"+"}, body.Notes[1].Reactions)
	require.Equal(t, []string{}, body.Notes[0].Replies)

	thread := decode[laneBody](t, e.get(t, "/lanes/thread"))
	require.Equal(t, "b", thread.Central)
	require.True(t, thread.Notes[0].Central)

	type summary struct {
		Name  string `json:"name"`
		Notes int    `json:"notes"`
	}
	list := decode[[]summary](t, e.get(t, "/lanes"))
	require.Equal(t, []summary{{"global", 3}, {"thread", 3}}, list)

	rec := e.get(t, "/lanes/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "lane not found")
}

func TestRelays(t *testing.T) {
	e := newEnv(t, fakeRelays{urls: []string{"wss://nos.lol"}, conns: 1})

	type body struct {
		Relays      []string `json:"relays"`
		Connections int      `json:"connections"`
		Known       int      `json:"known"`
	}
	got := decode[body](t, e.get(t, "/relays"))
	require.Equal(t, body{Relays: []string{"wss://nos.lol"}, Connections: 1, Known: 5}, got)
}

func TestPersona(t *testing.T) {
	e := newEnv(t, fakeRelays{})

	rec := e.get(t, "/personas/"+strings.Repeat("A", 64))
	require.Equal(t, http.StatusOK, rec.Code)
	persona := decode[types.Persona](t, rec)
	require.Equal(t, "alice", persona.Name)

	npub, err := nips.EncodePubkey(strings.Repeat("a", 64))
	require.NoError(t, err)
	rec = e.get(t, "/personas/"+npub)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"npub":"`+npub+`"`)

	require.Equal(t, http.StatusNotFound, e.get(t, "/personas/"+strings.Repeat("b", 64)).Code)
	require.Equal(t, http.StatusBadRequest, e.get(t, "/personas/abc").Code)
	require.Equal(t, http.StatusInternalServerError, e.get(t, "/personas/"+strings.Repeat("e", 64)).Code)
}

func TestMetricsAndRequestCounting(t *testing.T) {
	e := newEnv(t, fakeRelays{})

	e.get(t, "/relays")
	e.get(t, "/lanes/missing")

	rec := e.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total 2")
	require.Equal(t, int64(0), e.metrics.Snapshot().HTTPErrors)
}
