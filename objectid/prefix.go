package objectid

import (
	"encoding/hex"
)

// HexPrefix wraps an odd-length-aware hex prefix and matches ids bytewise.
//
// For odd-length prefixes the lower 4 bits of the last byte are zero-filled
// (e.g. the prefix "abc" is stored as the two bytes "abc0"), and matching
// checks the stored nibble against the high nibble of the id's next byte.
type HexPrefix struct {
	minBytes []byte
	odd      bool
}

// NewHexPrefix decodes a hex string into a HexPrefix, or returns ok=false if
// the string is not valid hex.
func NewHexPrefix(prefix string) (HexPrefix, bool) {
	odd := len(prefix)%2 != 0
	var b []byte
	var err error
	if odd {
		b, err = hex.DecodeString(prefix + "0")
	} else {
		b, err = hex.DecodeString(prefix)
	}
	if err != nil {
		return HexPrefix{}, false
	}
	return HexPrefix{minBytes: b, odd: odd}, true
}

// HexPrefixFromBytes builds an even-length HexPrefix directly from bytes,
// e.g. when the full id is already known and is being reused as a prefix.
func HexPrefixFromBytes(b []byte) HexPrefix {
	return HexPrefix{minBytes: append([]byte(nil), b...), odd: false}
}

// Hex renders the prefix back to its original hex string.
func (p HexPrefix) Hex() string {
	s := hex.EncodeToString(p.minBytes)
	if p.odd {
		s = s[:len(s)-1]
	}
	return s
}

// MinPrefixBytes returns the minimum bytes that would match this prefix,
// suitable for partitioning a sorted-by-id slice via binary search.
func (p HexPrefix) MinPrefixBytes() []byte {
	return p.minBytes
}

// AsFullBytes returns the prefix bytes if the prefix has even length (and so
// could itself be a complete id), and ok=false otherwise.
func (p HexPrefix) AsFullBytes() ([]byte, bool) {
	if p.odd {
		return nil, false
	}
	return p.minBytes, true
}

func (p HexPrefix) splitOddByte() (odd byte, hasOdd bool, prefix []byte) {
	if !p.odd {
		return 0, false, p.minBytes
	}
	last := p.minBytes[len(p.minBytes)-1]
	return last, true, p.minBytes[:len(p.minBytes)-1]
}

// Matches reports whether id starts with this prefix.
func (p HexPrefix) Matches(id ID) bool {
	odd, hasOdd, prefix := p.splitOddByte()
	if len(id) < len(prefix) {
		return false
	}
	for i := range prefix {
		if id[i] != prefix[i] {
			return false
		}
	}
	if !hasOdd {
		return true
	}
	if len(id) <= len(prefix) {
		return false
	}
	return id[len(prefix)]&0xf0 == odd
}

// PrefixResolution is the result of searching an index (or a change-id
// table) for ids matching a HexPrefix.
type PrefixResolution[T any] struct {
	kind   prefixKind
	single T
}

type prefixKind int

const (
	NoMatch prefixKind = iota
	SingleMatch
	AmbiguousMatch
)

// Kind reports which of NoMatch / SingleMatch / AmbiguousMatch this
// resolution holds.
func (r PrefixResolution[T]) Kind() prefixKind { return r.kind }

// Value returns the matched value and true when Kind() == SingleMatch.
func (r PrefixResolution[T]) Value() (T, bool) {
	if r.kind != SingleMatch {
		var zero T
		return zero, false
	}
	return r.single, true
}

// NoMatchResolution is the NoMatch result.
func NoMatchResolution[T any]() PrefixResolution[T] {
	return PrefixResolution[T]{kind: NoMatch}
}

// SingleMatchResolution wraps a single resolved value.
func SingleMatchResolution[T any](v T) PrefixResolution[T] {
	return PrefixResolution[T]{kind: SingleMatch, single: v}
}

// AmbiguousMatchResolution is the AmbiguousMatch result.
func AmbiguousMatchResolution[T any]() PrefixResolution[T] {
	return PrefixResolution[T]{kind: AmbiguousMatch}
}

// Plus combines two independently-computed resolutions (e.g. from two index
// segments) commutatively: NoMatch is the identity, any two SingleMatches
// combine to AmbiguousMatch (a segment never reports the same commit another
// segment already owns, so two single matches always mean two distinct
// ids), and AmbiguousMatch is absorbing.
func Plus[T any](a, b PrefixResolution[T]) PrefixResolution[T] {
	switch {
	case a.kind == NoMatch:
		return b
	case b.kind == NoMatch:
		return a
	default:
		// AmbiguousMatch/AmbiguousMatch, AmbiguousMatch/SingleMatch, or
		// SingleMatch/SingleMatch all resolve to AmbiguousMatch.
		return AmbiguousMatchResolution[T]()
	}
}
