// Package objectid defines the content-addressed identifier types shared by
// every store in vcscore: commits, trees, files, symlinks, conflicts,
// operations and views are all just named byte strings whose textual form is
// hexadecimal.
package objectid

import "encoding/hex"

// ID is a fixed-purpose content-addressed identifier. The zero value is the
// empty id. The root commit and change ids are not empty: each backend uses
// an all-zero id of its full id length for them.
type ID []byte

// Hex renders the id as a lowercase hex string.
func (id ID) Hex() string {
	return hex.EncodeToString(id)
}

// Bytes returns the raw bytes backing the id.
func (id ID) Bytes() []byte {
	return id
}

// Equal reports whether two ids refer to the same bytes.
func (id ID) Equal(other ID) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// FromHex decodes a hex string into an ID. It is the caller's
// responsibility to know the expected length for the id's purpose.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return ID(b), nil
}

// Less provides a bytewise total order over ids for use in sorted
// maps/slices.
func Less(a, b ID) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
