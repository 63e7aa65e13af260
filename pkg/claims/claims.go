package claims

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidPair is returned by ParsePairs for malformed input.
var ErrInvalidPair = errors.New("invalid claim pair")

// Well-known scope keys. The key space is open; these are conveniences.
const (
	KeyTeam    = "team"
	KeyProject = "project"
	KeyCode    = "code"
	KeyThread  = "thread"
	KeyNode    = "node"
)

type opKind uint8

const (
	opKeep opKind = iota
	opUnset
	opSet
)

// Op is the operation a Claims entry applies to its key.
// The zero value is Keep.
type Op struct {
	kind  opKind
	value string
}

// Keep leaves the accumulated value for a key untouched.
var Keep = Op{}

// Unset removes a key.
var Unset = Op{kind: opUnset}

// Set returns an Op that assigns v to a key.
func Set(v string) Op {
	return Op{kind: opSet, value: v}
}

// IsKeep reports whether the op is a no-op.
func (o Op) IsKeep() bool { return o.kind == opKeep }

// IsUnset reports whether the op removes the key.
func (o Op) IsUnset() bool { return o.kind == opUnset }

// IsSet reports whether the op assigns a value.
func (o Op) IsSet() bool { return o.kind == opSet }

// Value returns the assigned value and true for Set ops.
func (o Op) Value() (string, bool) {
	if o.kind != opSet {
		return "", false
	}
	return o.value, true
}

// String returns a human-readable op.
func (o Op) String() string {
	switch o.kind {
	case opKeep:
		return "KEEP"
	case opUnset:
		return "UNSET"
	case opSet:
		return o.value
	default:
		return "UNKNOWN"
	}
}

// Claims maps scope keys to operations.
type Claims map[string]Op

// FromMap builds Claims from plain values. Every entry becomes a Set op.
func FromMap(m map[string]string) Claims {
	c := make(Claims, len(m))
	for k, v := range m {
		c[k] = Set(v)
	}
	return c
}

// Clone returns a copy of c. A nil receiver yields nil.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, op := range c {
		out[k] = op
	}
	return out
}

// Get returns the value for key if it is Set.
func (c Claims) Get(key string) (string, bool) {
	op, ok := c[key]
	if !ok {
		return "", false
	}
	return op.Value()
}

// Flatten returns only the Set entries as plain strings. This is the form
// handed to the token issuer.
func (c Claims) Flatten() map[string]string {
	out := make(map[string]string, len(c))
	for k, op := range c {
		if v, ok := op.Value(); ok {
			out[k] = v
		}
	}
	return out
}

// IsEmpty reports whether c has no Set entries.
func (c Claims) IsEmpty() bool {
	for _, op := range c {
		if op.IsSet() {
			return false
		}
	}
	return true
}

// Keys returns the keys with a non-Keep op, sorted.
func (c Claims) Keys() []string {
	keys := make([]string, 0, len(c))
	for k, op := range c {
		if op.IsKeep() {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Canonical returns the deterministic serialization of c. Keep entries do
// not contribute; Unset entries serialize as null.
func (c Claims) Canonical() string {
	m := make(map[string]*string, len(c))
	for k, op := range c {
		switch op.kind {
		case opUnset:
			m[k] = nil
		case opSet:
			v := op.value
			m[k] = &v
		}
	}
	data, err := canonicalEncMode.Marshal(m)
	if err != nil {
		// map[string]*string always encodes
		panic(fmt.Sprintf("claims: canonical encoding failed: %v", err))
	}
	return string(data)
}

// Equal reports whether c and other serialize identically.
func (c Claims) Equal(other Claims) bool {
	return c.Canonical() == other.Canonical()
}

// String formats c as {key=value, key=UNSET} with sorted keys.
func (c Claims) String() string {
	keys := c.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ParsePairs parses "key=value" and "-key" arguments. "key=value" becomes a
// Set op and "-key" an Unset op.
func ParsePairs(args []string) (Claims, error) {
	c := make(Claims, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, "-") {
			key := strings.TrimPrefix(arg, "-")
			if key == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPair, arg)
			}
			c[key] = Unset
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPair, arg)
		}
		c[key] = Set(value)
	}
	return c, nil
}

// canonicalEncMode encodes claim sets with sorted map keys.
var canonicalEncMode cbor.EncMode

func init() {
	var err error
	canonicalEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create claims CBOR encoder mode: %v", err))
	}
}
