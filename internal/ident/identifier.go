// Package ident implements the 128-bit identifier shared by templates and
// collections.
//
// The all-zero value is reserved for "no identity" and is never produced by
// Random or assigned to a real template or collection.
package ident

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// TextLen is the length of the canonical hex rendering.
const TextLen = 32

// ByteLen is the length of the binary encoding.
const ByteLen = 16

// Identifier is an opaque 128-bit value (two 64-bit halves).
// Comparable, usable as a map key.
type Identifier struct {
	hi uint64
	lo uint64
}

// Zero is the reserved "no identity" value.
var Zero Identifier

// New builds an identifier from its two halves.
func New(hi, lo uint64) Identifier {
	return Identifier{hi: hi, lo: lo}
}

// Random returns a fresh identifier backed by a version-4 UUID.
// Version bits guarantee the result is never Zero.
func Random() Identifier {
	return FromUUID(uuid.New())
}

// FromUUID reinterprets a UUID as an identifier (big-endian halves).
func FromUUID(u uuid.UUID) Identifier {
	id, _ := FromBytes(u[:])
	return id
}

// FromBytes decodes the 16-byte big-endian binary form.
func FromBytes(b []byte) (Identifier, error) {
	if len(b) != ByteLen {
		return Zero, &FormatError{
			Kind:   "identifier",
			Input:  fmt.Sprintf("%x", b),
			Reason: fmt.Sprintf("want %d bytes, got %d", ByteLen, len(b)),
		}
	}
	return Identifier{
		hi: binary.BigEndian.Uint64(b[:8]),
		lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// Parse parses exactly 32 hex characters (either case).
func Parse(s string) (Identifier, error) {
	if len(s) != TextLen {
		return Zero, &FormatError{
			Kind:   "identifier",
			Input:  s,
			Reason: fmt.Sprintf("want %d hex characters, got %d", TextLen, len(s)),
		}
	}
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return Zero, &FormatError{
				Kind:   "identifier",
				Input:  s,
				Reason: fmt.Sprintf("invalid hex character %q at offset %d", s[i], i),
			}
		}
	}
	// Все символы проверены выше, ParseUint не может вернуть ошибку.
	hi, _ := strconv.ParseUint(s[:16], 16, 64)
	lo, _ := strconv.ParseUint(s[16:], 16, 64)
	return Identifier{hi: hi, lo: lo}, nil
}

// MustParse is Parse that panics on malformed input. Intended for constants.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Hi returns the high 64 bits.
func (id Identifier) Hi() uint64 { return id.hi }

// Lo returns the low 64 bits.
func (id Identifier) Lo() uint64 { return id.lo }

// IsZero reports whether id is the reserved "no identity" value.
func (id Identifier) IsZero() bool {
	return id.hi == 0 && id.lo == 0
}

// Compare orders identifiers by (hi, lo). Used for stable output in tools.
func (id Identifier) Compare(other Identifier) int {
	if c := cmp.Compare(id.hi, other.hi); c != 0 {
		return c
	}
	return cmp.Compare(id.lo, other.lo)
}

// String renders 32 lowercase hex characters, each half zero-padded.
func (id Identifier) String() string {
	return string(id.AppendText(make([]byte, 0, TextLen)))
}

// AppendText appends the canonical hex form to b.
func (id Identifier) AppendText(b []byte) []byte {
	const digits = "0123456789abcdef"
	for shift := 60; shift >= 0; shift -= 4 {
		b = append(b, digits[(id.hi>>uint(shift))&0xf])
	}
	for shift := 60; shift >= 0; shift -= 4 {
		b = append(b, digits[(id.lo>>uint(shift))&0xf])
	}
	return b
}

// AppendBinary appends the 16-byte big-endian form to b.
func (id Identifier) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, id.hi)
	return binary.BigEndian.AppendUint64(b, id.lo)
}

// UUID returns the identifier as a UUID value.
func (id Identifier) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[:8], id.hi)
	binary.BigEndian.PutUint64(u[8:], id.lo)
	return u
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return id.AppendText(nil), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalYAML emits the hex scalar.
func (id Identifier) MarshalYAML() (any, error) {
	return id.String(), nil
}

// UnmarshalYAML accepts the hex scalar. An empty scalar decodes to Zero.
func (id *Identifier) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return &FormatError{Kind: "identifier", Input: value.Tag, Reason: "want a scalar"}
	}
	if value.Value == "" {
		*id = Zero
		return nil
	}
	return id.UnmarshalText([]byte(value.Value))
}
