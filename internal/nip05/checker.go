package nip05

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-lanes/internal/metrics"
	"nostr-lanes/internal/nostr"
)

// DefaultRevalidateAfter is how long a successful verification is trusted.
const DefaultRevalidateAfter = 12 * time.Hour

// checkTimeout bounds one shared check, store access and live lookup included.
const checkTimeout = 30 * time.Second

// Store keeps the last successful verification time per pubkey.
type Store interface {
	VerificationAgeHours(ctx context.Context, pubkey string) (hours int, ok bool, err error)
	SetVerifiedNow(ctx context.Context, pubkey string) error
}

// Verifier performs a live check of a claim.
type Verifier interface {
	Verify(ctx context.Context, pubkey, claim string) bool
}

// Checker answers "is this claim verified" using the stored timestamp while
// it is fresh and a live check otherwise. Failures are never stored.
type Checker struct {
	store           Store
	verifier        Verifier
	revalidateAfter time.Duration
	group           singleflight.Group
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewChecker creates a Checker. revalidateAfter <= 0 selects the default.
func NewChecker(store Store, verifier Verifier, revalidateAfter time.Duration, m *metrics.Metrics, logger *slog.Logger) *Checker {
	if revalidateAfter <= 0 {
		revalidateAfter = DefaultRevalidateAfter
	}
	return &Checker{
		store:           store,
		verifier:        verifier,
		revalidateAfter: revalidateAfter,
		metrics:         m,
		logger:          logger,
	}
}

// Verify reports whether pubkey's claim is verified. It never returns an
// error: gateway failures count as not verified.
func (c *Checker) Verify(ctx context.Context, pubkey, claim string) bool {
	if pubkey == "" || claim == "" {
		return false
	}

	// Callers share the check, so it must not die with the first one's ctx.
	ch := c.group.DoChan(pubkey+"|"+claim, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
		defer cancel()
		return c.verify(flightCtx, pubkey, claim), nil
	})

	select {
	case <-ctx.Done():
		return false
	case res := <-ch:
		return res.Val.(bool)
	}
}

func (c *Checker) verify(ctx context.Context, pubkey, claim string) bool {
	hours, ok, err := c.store.VerificationAgeHours(ctx, pubkey)
	if err != nil {
		c.logger.Warn("nip05: reading verification age failed", "pubkey", nostr.ShortID(pubkey), "error", err)
		return false
	}
	if ok && time.Duration(hours)*time.Hour < c.revalidateAfter {
		c.logger.Info("nip05: recently verified", "nip05", claim, "hours", hours)
		return true
	}

	c.logger.Info("nip05: verifying", "nip05", claim)
	verified := c.verifier.Verify(ctx, pubkey, claim)
	c.metrics.IncNip05Check(verified)
	if !verified {
		c.logger.Info("nip05: verification failed", "nip05", claim)
		return false
	}

	if err := c.store.SetVerifiedNow(ctx, pubkey); err != nil {
		c.logger.Warn("nip05: storing verification failed", "pubkey", nostr.ShortID(pubkey), "error", err)
	}
	c.logger.Info("nip05: verified", "nip05", claim)
	return true
}
