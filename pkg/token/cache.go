package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/auditlens/realtime-go/pkg/claims"
)

// DefaultLeeway is subtracted from a token's expiry before it is reused.
const DefaultLeeway = 10 * time.Second

// Cache reuses tokens per canonical claim set until they are about to
// expire. Tokens without an "exp" claim are never cached.
type Cache struct {
	source Source
	leeway time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	token   string
	expires time.Time
}

// NewCache wraps source. A negative leeway selects DefaultLeeway.
func NewCache(source Source, leeway time.Duration) *Cache {
	if leeway < 0 {
		leeway = DefaultLeeway
	}
	return &Cache{
		source:  source,
		leeway:  leeway,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Token returns a cached token for c or asks the underlying source.
func (c *Cache) Token(ctx context.Context, cl claims.Claims) (string, error) {
	key := cl.Canonical()
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.token, nil
	}
	c.mu.Unlock()

	tok, err := c.source.Token(ctx, cl)
	if err != nil {
		return "", err
	}

	exp, ok, err := ExpiresAt(tok)
	if err != nil || !ok {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if expires := exp.Add(-c.leeway); now.Before(expires) {
		c.entries[key] = cacheEntry{token: tok, expires: expires}
	}
	return tok, nil
}

// Invalidate drops the cached token for cl.
func (c *Cache) Invalidate(cl claims.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cl.Canonical())
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ExpiresAt reads the "exp" claim of a JWT without verifying its signature.
// ok is false when the token carries no expiry.
func ExpiresAt(tok string) (exp time.Time, ok bool, err error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tok, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("token: parse: %w", err)
	}
	date, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("token: exp claim: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}
