package mockbackend

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/auditlens/realtime-go/pkg/stream"
	"github.com/auditlens/realtime-go/pkg/token"
	"github.com/auditlens/realtime-go/pkg/version"
)

// Errors.
var (
	ErrInvalidToken = errors.New("mockbackend: invalid token")
)

// Defaults.
const (
	DefaultStreamPath = "/api/stream"
	DefaultTokenPath  = "/api/stream/token"
	DefaultTokenTTL   = 5 * time.Minute
	DefaultSentinel   = "[DONE]"

	clientBuffer = 64
	keyInfo      = "auditstream mock token key"
)

// Config configures the mock backend.
type Config struct {
	StreamPath string
	TokenPath  string

	// Secret is the master secret the signing key is derived from.
	// Empty means a random secret.
	Secret []byte

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// Sentinel is the payload sent by Terminate.
	Sentinel string

	// KeepAlive is the SSE comment interval (0 = none).
	KeepAlive time.Duration

	Logger *slog.Logger
}

// Event is a frame to publish.
type Event struct {
	// Type is the named event type. Empty publishes an anonymous frame.
	Type string

	// Data is the payload. Non-string values are JSON encoded.
	Data any

	// Scope restricts delivery to streams whose claims contain it.
	Scope map[string]string
}

// StreamClaims are the JWT claims of a stream token.
type StreamClaims struct {
	Scope map[string]string `json:"scope"`
	gojwt.RegisteredClaims
}

// ClientInfo describes a connected stream.
type ClientInfo struct {
	ID        string
	Transport string
	Scope     map[string]string
	Connected time.Time
}

type client struct {
	ClientInfo
	send chan stream.Frame
	done chan struct{}
	once sync.Once
}

func (c *client) drop() {
	c.once.Do(func() { close(c.done) })
}

// Server is the mock backend.
type Server struct {
	config Config
	key    []byte
	router *mux.Router
	logger *slog.Logger
	now    func() time.Time

	upgrader websocket.Upgrader

	mu            sync.Mutex
	clients       map[string]*client
	tokenRequests []map[string]string
	failStatus    int
	seq           uint64
}

// New creates a mock backend.
func New(config Config) (*Server, error) {
	if config.StreamPath == "" {
		config.StreamPath = DefaultStreamPath
	}
	if config.TokenPath == "" {
		config.TokenPath = DefaultTokenPath
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if config.Sentinel == "" {
		config.Sentinel = DefaultSentinel
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	secret := config.Secret
	if len(secret) == 0 {
		secret = []byte(uuid.NewString())
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("mockbackend: derive key: %w", err)
	}

	s := &Server{
		config:  config,
		key:     key,
		logger:  config.Logger.With("component", "mockbackend"),
		now:     time.Now,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc(config.TokenPath, s.handleToken).Methods(http.MethodPost)
	r.HandleFunc(config.StreamPath, s.handleStream).Methods(http.MethodGet)
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StreamPath returns the stream endpoint path.
func (s *Server) StreamPath() string { return s.config.StreamPath }

// TokenPath returns the token issuer path.
func (s *Server) TokenPath() string { return s.config.TokenPath }

// IssueToken signs a token for scope.
func (s *Server) IssueToken(scope map[string]string) (string, error) {
	now := s.now()
	claims := StreamClaims{
		Scope: scope,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifyToken checks the signature and expiry of tok.
func (s *Server) VerifyToken(tok string) (*StreamClaims, error) {
	claims := &StreamClaims{}
	_, err := gojwt.ParseWithClaims(tok, claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// FailTokens makes the issuer answer with status. Zero restores normal
// operation.
func (s *Server) FailTokens(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// TokenRequests returns the claim maps of all token requests so far.
func (s *Server) TokenRequests() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.tokenRequests...)
}

// Clients returns the connected streams ordered by connect time.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.ClientInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connected.Before(out[j].Connected) })
	return out
}

// Publish sends ev to every stream whose scope matches. It returns the
// number of streams the event was queued for.
func (s *Server) Publish(ev Event) (int, error) {
	data, err := encodeData(ev.Data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f := stream.Frame{Event: ev.Type, Data: data, ID: fmt.Sprint(s.seq)}

	n := 0
	for _, c := range s.clients {
		if !Matches(ev.Scope, c.Scope) {
			continue
		}
		select {
		case c.send <- f:
			n++
		default:
			s.logger.Warn("client buffer full, frame dropped", "client", c.ID)
		}
	}
	return n, nil
}

// Terminate sends the sentinel to every stream.
func (s *Server) Terminate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.clients {
		select {
		case c.send <- stream.Frame{Data: s.config.Sentinel}:
			n++
		default:
		}
	}
	return n
}

// Drop abruptly closes every stream.
func (s *Server) Drop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.drop()
	}
	return len(s.clients)
}

// Matches reports whether every entry of scope is present in claims.
func Matches(scope, claims map[string]string) bool {
	for k, v := range scope {
		if claims[k] != v {
			return false
		}
	}
	return true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req token.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, req.Claims)
	status := s.failStatus
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "token issuance disabled", status)
		return
	}

	tok, err := s.IssueToken(req.Claims)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(token.Response{Token: tok})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, err := version.Check(r.Header.Get(version.Header)); err != nil {
		s.logger.Debug("stream rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	claims, err := s.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Debug("stream rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, claims)
		return
	}
	s.serveSSE(w, r, claims)
}

func (s *Server) register(transport string, scope map[string]string) *client {
	c := &client{
		ClientInfo: ClientInfo{
			ID:        ulid.Make().String(),
			Transport: transport,
			Scope:     scope,
			Connected: s.now(),
		},
		send: make(chan stream.Frame, clientBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()
	s.logger.Debug("client connected", "client", c.ID, "transport", transport, "scope", scope)
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	c.drop()
	s.logger.Debug("client disconnected", "client", c.ID)
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, claims *StreamClaims) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Registered before the handshake completes so that nothing published
	// after the client sees the response is lost.
	c := s.register("sse", claims.Scope)
	defer s.unregister(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var keepAlive <-chan time.Time
	if s.config.KeepAlive > 0 {
		ticker := time.NewTicker(s.config.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case f := <-c.send:
			if err := stream.WriteFrame(w, f); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive:
			if err := stream.WriteComment(w, "keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		case <-c.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, claims *StreamClaims) {
	c := s.register("websocket", claims.Scope)
	defer s.unregister(c)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader only notices the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-c.send:
			msg := stream.WireMessage{Event: f.Event, Data: f.Data, ID: f.ID}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		case <-closed:
			return
		}
	}
}

func encodeData(v any) (string, error) {
	switch d := v.(type) {
	case string:
		return d, nil
	case []byte:
		return string(d), nil
	case nil:
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mockbackend: encode data: %w", err)
	}
	return string(b), nil
}
