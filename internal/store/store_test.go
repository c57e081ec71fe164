package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-lanes/internal/cache"
	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "nostr-lanes-test-*.db")
	require.NoError(t, err)
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	db, err := Open(f.Name(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func metadataEvent(t *testing.T, pubkey string, profile types.ProfileInfo) string {
	t.Helper()
	content, err := json.Marshal(profile)
	require.NoError(t, err)
	evt := types.Event{
		ID:        "meta-" + pubkey,
		PubKey:    pubkey,
		CreatedAt: 1700000000,
		Kind:      types.KindMetadata,
		Tags:      [][]string{},
		Content:   string(content),
	}
	return nostr.ToJSON(&evt)
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"relays", "events", "textnote_relays", "metadata"} {
		var count int
		err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count)
		require.NoError(t, err, "table %s", table)
	}
}

func TestUpsertRelay_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertRelay(ctx, "wss://a.example"))
	require.NoError(t, db.UpsertRelay(ctx, "wss://a.example"))
	require.NoError(t, db.UpsertRelay(ctx, "wss://b.example"))

	n, err := db.CountRelays(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestStoreEvent_RecordsEveryDeliveringRelay(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	evt := types.Event{ID: "e1", PubKey: "pk", CreatedAt: 10, Kind: types.KindTextNote, Tags: [][]string{}, Content: "hi"}

	require.NoError(t, db.StoreEvent(ctx, "wss://b.example", &evt))
	require.NoError(t, db.StoreEvent(ctx, "wss://a.example", &evt))
	require.NoError(t, db.StoreEvent(ctx, "wss://a.example", &evt))

	relays, err := db.RelaysFor(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, []string{"wss://a.example", "wss://b.example"}, relays)

	none, err := db.RelaysFor(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRecordDelivery(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordDelivery(ctx, "e2", "wss://c.example"))
	require.NoError(t, db.RecordDelivery(ctx, "e2", "wss://c.example"))

	relays, err := db.RelaysFor(ctx, "e2")
	require.NoError(t, err)
	require.Equal(t, []string{"wss://c.example"}, relays)
}

func TestGetPersona_Unknown(t *testing.T) {
	db := testDB(t)
	p, err := db.GetPersona(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestUpsertMetadata_LastWriteWins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "first"})))
	require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{
		Name:    "second",
		Picture: "https://img.example/a.png",
		Banner:  "not a url",
	})))

	p, err := db.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "second", p.Name)
	require.Equal(t, "https://img.example/a.png", p.Avatar)
	require.Empty(t, p.Banner)
	require.Contains(t, p.MetadataJSON, "second")
}

func TestVerification_AgeAndWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	db := testDB(t, WithClock(clock.Now))
	ctx := context.Background()

	_, ok, err := db.VerificationAgeHours(ctx, "pk")
	require.NoError(t, err)
	require.False(t, ok, "no metadata row")

	require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "bob", Nip05: "bob@example.com"})))
	_, ok, err = db.VerificationAgeHours(ctx, "pk")
	require.NoError(t, err)
	require.False(t, ok, "never verified")

	require.NoError(t, db.SetVerifiedNow(ctx, "pk"))
	clock.Advance(3*time.Hour + 59*time.Minute)

	hours, ok, err := db.VerificationAgeHours(ctx, "pk")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, hours)

	p, err := db.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.True(t, p.Nip05Verified)

	// a newer profile keeps the verification stamp
	require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "bobby", Nip05: "bob@example.com"})))
	_, ok, _ = db.VerificationAgeHours(ctx, "pk")
	require.True(t, ok)

	clock.Advance(9 * time.Hour)
	hours, _, _ = db.VerificationAgeHours(ctx, "pk")
	require.Equal(t, 12, hours)

	p, err = db.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.False(t, p.Nip05Verified)
}

func TestCachedDB_ReadThroughAndInvalidate(t *testing.T) {
	db := testDB(t)
	backend := cache.NewMemoryCache(100, time.Minute)
	t.Cleanup(func() { backend.Close() })
	cdb := NewCachedDB(db, backend, cache.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	p, err := cdb.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.Nil(t, p)

	// the miss is cached; a write through the wrapper clears it
	require.NoError(t, cdb.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "alice"})))
	p, err = cdb.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "alice", p.Name)

	// served from cache: a write behind the wrapper's back is not seen
	require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "changed"})))
	p, err = cdb.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Name)
	require.NotEmpty(t, p.MetadataJSON)

	require.NoError(t, cdb.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "carol"})))
	p, err = cdb.GetPersona(ctx, "pk")
	require.NoError(t, err)
	require.Equal(t, "carol", p.Name)
}

// gatedBackend holds the first Set until release is closed.
type gatedBackend struct {
	cache.Backend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend(t *testing.T) *gatedBackend {
	mc := cache.NewMemoryCache(100, time.Minute)
	t.Cleanup(func() { mc.Close() })
	return &gatedBackend{Backend: mc, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Backend.Set(ctx, key, value, ttl)
}

func TestCachedDB_FillRacingWriteIsDropped(t *testing.T) {
	tests := []struct {
		name string
		seed bool
	}{
		{"stale persona", true},
		{"stale not found", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			backend := newGatedBackend(t)
			cdb := NewCachedDB(db, backend, cache.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
			ctx := context.Background()

			if tt.seed {
				require.NoError(t, db.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "old"})))
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				p, err := cdb.GetPersona(ctx, "pk")
				assert.NoError(t, err)
				if tt.seed {
					assert.Equal(t, "old", p.Name)
				} else {
					assert.Nil(t, p)
				}
			}()

			<-backend.entered
			require.NoError(t, cdb.UpsertMetadata(ctx, "pk", metadataEvent(t, "pk", types.ProfileInfo{Name: "new"})))
			close(backend.release)
			<-done

			p, err := cdb.GetPersona(ctx, "pk")
			require.NoError(t, err)
			require.NotNil(t, p)
			require.Equal(t, "new", p.Name)
		})
	}
}

func TestConcurrentWrites(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	evt := types.Event{ID: "shared", PubKey: "pk", CreatedAt: 1, Kind: types.KindTextNote, Tags: [][]string{}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			relay := "wss://r" + string(rune('a'+i%4)) + ".example"
			assert.NoError(t, db.UpsertRelay(ctx, relay))
			assert.NoError(t, db.StoreEvent(ctx, relay, &evt))
		}(i)
	}
	wg.Wait()

	relays, err := db.RelaysFor(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, relays, 4)
}
