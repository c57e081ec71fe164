// Package nip05 verifies NIP-05 identifiers (name@domain) against
// the domain's .well-known/nostr.json, with a revalidation window kept in the
// persistence gateway.
package nip05

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/util"
)

// DefaultTimeout bounds one live lookup.
const DefaultTimeout = 5 * time.Second

// Result contains the outcome of a live lookup
type Result struct {
	Verified  bool      `json:"verified"`
	Pubkey    string    `json:"pubkey,omitempty"` // The verified pubkey (hex)
	Domain    string    `json:"domain,omitempty"` // Display domain
	Relays    []string  `json:"relays,omitempty"` // Relay hints
	CheckedAt time.Time `json:"checked_at"`
}

// HTTPVerifier performs live lookups over HTTP.
type HTTPVerifier struct {
	client       *http.Client
	scheme       string
	allowPrivate bool
	logger       *slog.Logger
}

// VerifierOption configures an HTTPVerifier.
type VerifierOption func(*HTTPVerifier)

// WithInsecureLocal lets the verifier talk plain http to loopback/internal
// hosts. Only meant for tests and local development.
func WithInsecureLocal() VerifierOption {
	return func(v *HTTPVerifier) {
		v.scheme = "http"
		v.allowPrivate = true
	}
}

// NewHTTPVerifier creates a verifier with the given request timeout.
func NewHTTPVerifier(timeout time.Duration, logger *slog.Logger, opts ...VerifierOption) *HTTPVerifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	v := &HTTPVerifier{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		scheme: "https",
		logger: logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether claim resolves to pubkey.
func (v *HTTPVerifier) Verify(ctx context.Context, pubkey, claim string) bool {
	return v.Lookup(ctx, pubkey, claim).Verified
}

// Lookup fetches the .well-known/nostr.json of the claimed domain and checks the pubkey
func (v *HTTPVerifier) Lookup(ctx context.Context, pubkey, claim string) *Result {
	result := &Result{CheckedAt: time.Now()}

	name, domain, ok := splitClaim(claim)
	if !ok {
		v.logger.Debug("invalid nip05 format", "nip05", claim)
		return result
	}

	host := domain
	if h, _, found := strings.Cut(domain, ":"); found {
		host = h
	}
	if !v.allowPrivate && util.IsPrivateHost(host) {
		v.logger.Debug("nip05 domain is private/internal", "domain", domain)
		return result
	}

	// Set display domain (for "_@domain", show just "domain")
	if name == "_" {
		result.Domain = domain
	} else {
		result.Domain = name + "@" + domain
	}

	u := fmt.Sprintf("%s://%s/.well-known/nostr.json?name=%s", v.scheme, domain, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		v.logger.Debug("failed to create nip05 request", "url", u, "error", err)
		return result
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Debug("nip05 fetch failed", "url", u, "error", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Debug("nip05 fetch returned non-200", "url", u, "status", resp.StatusCode)
		return result
	}

	var data struct {
		Names  map[string]string   `json:"names"`
		Relays map[string][]string `json:"relays"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		v.logger.Debug("failed to parse nip05 response", "url", u, "error", err)
		return result
	}

	// Names are matched case-insensitively
	var found string
	for n, pk := range data.Names {
		if strings.ToLower(n) == name {
			found = strings.ToLower(pk)
			break
		}
	}
	if found == "" {
		v.logger.Debug("nip05 name not found in response", "name", name, "url", u)
		return result
	}
	if found != strings.ToLower(pubkey) {
		v.logger.Debug("nip05 pubkey mismatch",
			"expected", nostr.ShortID(pubkey),
			"got", nostr.ShortID(found))
		return result
	}

	result.Verified = true
	result.Pubkey = found
	for _, relay := range data.Relays[found] {
		if normalized := nostr.NormalizeRelayURL(relay); normalized != "" {
			result.Relays = append(result.Relays, normalized)
		}
	}

	v.logger.Debug("nip05 verified",
		"nip05", claim,
		"pubkey", nostr.ShortID(pubkey),
		"relays", len(result.Relays))
	return result
}

// splitClaim parses name@domain, lowercasing both parts.
func splitClaim(claim string) (name, domain string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(claim), "@", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	name = strings.ToLower(parts[0])
	domain = strings.ToLower(parts[1])
	if name == "" || domain == "" || strings.ContainsAny(domain, "/\\?#@ ") {
		return "", "", false
	}
	return name, domain, true
}

// WellKnownURL returns the .well-known URL for a nip05 identifier
func WellKnownURL(claim string) string {
	name, domain, ok := splitClaim(claim)
	if !ok {
		return ""
	}
	return fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, url.QueryEscape(name))
}
