// Package token obtains authorization tokens scoped to a claim set.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/auditlens/realtime-go/pkg/claims"
)

// Token errors.
var (
	ErrEmptyToken = errors.New("token: issuer returned an empty token")
	ErrIssuer     = errors.New("token: issuer request failed")
)

// Source issues stream tokens for a claim set. Only the Set entries of the
// claims are sent to the issuer.
type Source interface {
	Token(ctx context.Context, c claims.Claims) (string, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, c claims.Claims) (string, error)

// Token calls f(ctx, c).
func (f SourceFunc) Token(ctx context.Context, c claims.Claims) (string, error) {
	return f(ctx, c)
}

// Invalidator is implemented by sources that cache tokens.
type Invalidator interface {
	Invalidate(c claims.Claims)
}

// Request is the issuer request body.
type Request struct {
	Claims map[string]string `json:"claims"`
}

// Response is the issuer response body.
type Response struct {
	Token string `json:"token"`
}

// HTTPSource requests tokens from the backend's issuer endpoint.
type HTTPSource struct {
	// URL is the issuer endpoint, e.g. http://localhost:8080/api/stream/token.
	URL string

	// Client is the HTTP client. Defaults to http.DefaultClient.
	Client *http.Client

	// Header is added to every request (e.g. session cookies).
	Header http.Header
}

// Token POSTs the flattened claims and returns the issued token.
func (s *HTTPSource) Token(ctx context.Context, c claims.Claims) (string, error) {
	body, err := json.Marshal(Request{Claims: c.Flatten()})
	if err != nil {
		return "", fmt.Errorf("token: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("token: build request: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("%w: %d %s", ErrIssuer, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token: decode response: %w", err)
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}
