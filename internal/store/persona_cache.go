package store

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync/atomic"
	"time"

	"nostr-lanes/internal/cache"
	"nostr-lanes/internal/types"
)

const (
	personaKeyPrefix = "persona:"
	generationSlots  = 256
)

type cachedPersona struct {
	Persona      *types.Persona `json:"persona,omitempty"`
	MetadataJSON string         `json:"metadata_json,omitempty"`
	FetchedAt    int64          `json:"fetched_at"`
	NotFound     bool           `json:"not_found"`
}

// CachedDB puts a read-through persona cache in front of DB.
// Writes that change a persona drop its cache entry. Each write also bumps
// the generation of the key's slot, and a fill that raced with a write is
// dropped, so a stale read never outlives the write that superseded it.
type CachedDB struct {
	*DB
	backend     cache.Backend
	config      cache.Config
	logger      *slog.Logger
	generations [generationSlots]atomic.Uint64
}

// NewCachedDB wraps db with the given cache backend.
func NewCachedDB(db *DB, backend cache.Backend, config cache.Config, logger *slog.Logger) *CachedDB {
	return &CachedDB{DB: db, backend: backend, config: config, logger: logger}
}

// GetPersona serves from cache when possible, else from the database.
// Unknown authors are cached as not found for a short while.
func (c *CachedDB) GetPersona(ctx context.Context, pubkey string) (*types.Persona, error) {
	key := personaKeyPrefix + pubkey

	if data, found, err := c.backend.Get(ctx, key); err == nil && found {
		var cached cachedPersona
		if err := json.Unmarshal(data, &cached); err == nil {
			if cached.NotFound {
				return nil, nil
			}
			if cached.Persona != nil {
				cached.Persona.MetadataJSON = cached.MetadataJSON
				return cached.Persona, nil
			}
		}
	} else if err != nil {
		c.logger.Debug("persona cache get failed", "pubkey", pubkey, "error", err)
	}

	gen := c.generation(pubkey)
	start := gen.Load()

	persona, err := c.DB.GetPersona(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if gen.Load() != start {
		return persona, nil
	}

	cached := cachedPersona{
		Persona:   persona,
		FetchedAt: time.Now().Unix(),
		NotFound:  persona == nil,
	}
	ttl := c.config.PersonaNotFoundTTL
	if persona != nil {
		cached.MetadataJSON = persona.MetadataJSON
		ttl = c.config.PersonaTTL
	}
	if data, err := json.Marshal(cached); err == nil {
		if err := c.backend.Set(ctx, key, data, ttl); err != nil {
			c.logger.Debug("persona cache set failed", "pubkey", pubkey, "error", err)
		}
	}
	// a write landed while we were filling: what we stored may be stale
	if gen.Load() != start {
		c.drop(ctx, pubkey)
	}
	return persona, nil
}

// UpsertMetadata writes through and invalidates the cached persona.
func (c *CachedDB) UpsertMetadata(ctx context.Context, pubkey, rawEvent string) error {
	if err := c.DB.UpsertMetadata(ctx, pubkey, rawEvent); err != nil {
		return err
	}
	c.invalidate(ctx, pubkey)
	return nil
}

// SetVerifiedNow writes through and invalidates the cached persona.
func (c *CachedDB) SetVerifiedNow(ctx context.Context, pubkey string) error {
	if err := c.DB.SetVerifiedNow(ctx, pubkey); err != nil {
		return err
	}
	c.invalidate(ctx, pubkey)
	return nil
}

func (c *CachedDB) invalidate(ctx context.Context, pubkey string) {
	c.generation(pubkey).Add(1)
	c.drop(ctx, pubkey)
}

func (c *CachedDB) drop(ctx context.Context, pubkey string) {
	if err := c.backend.Delete(ctx, personaKeyPrefix+pubkey); err != nil {
		c.logger.Warn("persona cache invalidate failed", "pubkey", pubkey, "error", err)
	}
}

func (c *CachedDB) generation(pubkey string) *atomic.Uint64 {
	h := fnv.New32a()
	h.Write([]byte(pubkey))
	return &c.generations[h.Sum32()%generationSlots]
}
