package cache

import "time"

// Config holds cache TTL configuration
type Config struct {
	PersonaTTL         time.Duration
	PersonaNotFoundTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PersonaTTL:         1 * time.Hour,    // invalidated on every metadata upsert anyway
		PersonaNotFoundTTL: 30 * time.Second, // feedback requests usually land within seconds
	}
}
