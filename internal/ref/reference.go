// Package ref defines Reference, the only persisted shape of an object
// reference: an identifier plus an optional instance id.
//
//	(collection, id != 0)  a specific placed object in that collection
//	(template,   id != 0)  a specific instance of that template
//	(template,   0)        any live instance of that template
//	(zero,       *)        null reference, never resolves
package ref

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/sceneref/internal/ident"
)

// BinaryLen is the fixed size of the binary encoding.
const BinaryLen = ident.ByteLen + 8

// TextLen is the fixed size of the text encoding.
const TextLen = ident.TextLen + 1 + 16

// Reference addresses an object without holding a live handle.
type Reference struct {
	Identifier ident.Identifier
	InstanceID uint64
}

// Empty is the canonical empty reference (zero, 0).
var Empty Reference

// Of builds a reference.
func Of(id ident.Identifier, instanceID uint64) Reference {
	return Reference{Identifier: id, InstanceID: instanceID}
}

// Any builds an "any live instance of template" reference.
func Any(template ident.Identifier) Reference {
	return Reference{Identifier: template}
}

// IsNull reports whether the reference can never resolve.
func (r Reference) IsNull() bool {
	return r.Identifier.IsZero()
}

// IsSpecific reports whether the reference names one object rather than "any".
func (r Reference) IsSpecific() bool {
	return r.InstanceID != 0
}

// String returns the text encoding.
func (r Reference) String() string {
	return string(r.appendText(make([]byte, 0, TextLen)))
}

func (r Reference) appendText(b []byte) []byte {
	b = r.Identifier.AppendText(b)
	b = append(b, ':')
	s := strconv.FormatUint(r.InstanceID, 16)
	for i := len(s); i < 16; i++ {
		b = append(b, '0')
	}
	return append(b, s...)
}

// Parse decodes "<32 hex>:<16 hex>".
func Parse(s string) (Reference, error) {
	if len(s) != TextLen {
		return Empty, &ident.FormatError{
			Kind:   "reference",
			Input:  s,
			Reason: fmt.Sprintf("want %d characters, got %d", TextLen, len(s)),
		}
	}
	idText, instText, ok := strings.Cut(s, ":")
	if !ok || len(idText) != ident.TextLen {
		return Empty, &ident.FormatError{Kind: "reference", Input: s, Reason: "want <identifier>:<instance>"}
	}
	id, err := ident.Parse(idText)
	if err != nil {
		return Empty, &ident.FormatError{Kind: "reference", Input: s, Reason: err.Error()}
	}
	for i := 0; i < len(instText); i++ {
		c := instText[i]
		if !('0' <= c && c <= '9') && !('a' <= c && c <= 'f') && !('A' <= c && c <= 'F') {
			return Empty, &ident.FormatError{
				Kind:   "reference",
				Input:  s,
				Reason: fmt.Sprintf("invalid hex character %q in instance id", c),
			}
		}
	}
	inst, err := strconv.ParseUint(instText, 16, 64)
	if err != nil {
		return Empty, &ident.FormatError{Kind: "reference", Input: s, Reason: err.Error()}
	}
	return Reference{Identifier: id, InstanceID: inst}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Reference) MarshalText() ([]byte, error) {
	return r.appendText(nil), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalBinary encodes identifier hi, lo and instance id as big-endian
// fixed-width integers.
func (r Reference) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, BinaryLen)
	b = r.Identifier.AppendBinary(b)
	return binary.BigEndian.AppendUint64(b, r.InstanceID), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Reference) UnmarshalBinary(data []byte) error {
	if len(data) != BinaryLen {
		return &ident.FormatError{
			Kind:   "reference",
			Input:  fmt.Sprintf("%x", data),
			Reason: fmt.Sprintf("want %d bytes, got %d", BinaryLen, len(data)),
		}
	}
	id, err := ident.FromBytes(data[:ident.ByteLen])
	if err != nil {
		return err
	}
	r.Identifier = id
	r.InstanceID = binary.BigEndian.Uint64(data[ident.ByteLen:])
	return nil
}

// yamlMapping is the long YAML form.
type yamlMapping struct {
	Identifier ident.Identifier `yaml:"identifier"`
	InstanceID uint64           `yaml:"instance_id"`
}

// MarshalYAML emits the text scalar.
func (r Reference) MarshalYAML() (any, error) {
	return r.String(), nil
}

// UnmarshalYAML accepts the text scalar, an empty scalar (Empty) or the
// mapping form {identifier, instance_id}.
func (r *Reference) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*r = Empty
			return nil
		}
		return r.UnmarshalText([]byte(value.Value))
	case yaml.MappingNode:
		var m yamlMapping
		if err := value.Decode(&m); err != nil {
			return err
		}
		*r = Reference{Identifier: m.Identifier, InstanceID: m.InstanceID}
		return nil
	default:
		return &ident.FormatError{Kind: "reference", Input: value.Tag, Reason: "want a scalar or a mapping"}
	}
}
