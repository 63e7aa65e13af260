package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of realtime backends.
	ServiceType = "_auditstream._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default backend port.
	DefaultPort = 8080

	// ProtocolVersion is the TXT "v" value this package writes.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyVersion    = "v"
	TXTKeyStreamPath = "sp"
	TXTKeyTokenPath  = "tp"
	TXTKeyTransport  = "tr"
	TXTKeyTLS        = "tls"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// BackendInfo describes a backend to advertise.
type BackendInfo struct {
	// Name is the instance name.
	Name string

	// Port is the HTTP port. Zero means DefaultPort.
	Port uint16

	// StreamPath is the stream endpoint path.
	StreamPath string

	// TokenPath is the token issuer path.
	TokenPath string

	// Transport is "sse" or "websocket".
	Transport string

	// TLS reports whether the backend serves https.
	TLS bool
}

// BackendService is a backend found via mDNS.
type BackendService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// Version is the advertised protocol version.
	Version int

	StreamPath string
	TokenPath  string
	Transport  string
	TLS        bool
}

// BaseURL returns the backend base URL using the first address, or the
// host name when no address was resolved.
func (s *BackendService) BaseURL() string {
	scheme := "http"
	if s.TLS {
		scheme = "https"
	}
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
