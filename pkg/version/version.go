// Package version provides stream protocol version parsing and negotiation.
//
// Clients announce the version they speak in the Header request header.
// A backend serves any version with the same major number as its own.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Current is the stream protocol version implemented by this library.
const Current = "1.0"

// Header carries the client's protocol version on stream requests.
const Header = "X-Audit-Stream-Version"

// ErrIncompatible is returned when a peer speaks another major version.
var ErrIncompatible = errors.New("incompatible stream protocol version")

// Version represents a parsed "major.minor" protocol version.
type Version struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Version, error) {
	majorStr, minorStr, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minorStr, ".") {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(majorStr, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	minor, err := strconv.ParseUint(minorStr, 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return Version{Major: uint16(major), Minor: uint16(minor)}, nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// CurrentVersion returns Current parsed.
func CurrentVersion() Version {
	return MustParse(Current)
}

// Check validates a version offered by a peer against Current. An empty
// offer is treated as Current.
func Check(offered string) (Version, error) {
	if offered == "" {
		return CurrentVersion(), nil
	}
	v, err := Parse(offered)
	if err != nil {
		return Version{}, err
	}
	if !CurrentVersion().Compatible(v) {
		return v, fmt.Errorf("%w: %s (serving %s)", ErrIncompatible, v, Current)
	}
	return v, nil
}
