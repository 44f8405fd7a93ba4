// Package assetid derives template identifiers from on-disk asset paths.
//
// It is the adapter that feeds registry-ready identifiers to the rest of the
// system; the registry itself never looks at paths.
package assetid

import (
	"encoding/binary"
	"path"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/udisondev/sceneref/internal/ident"
)

// fallback replaces a digest that happens to be all zero.
var fallback = ident.New(0x8000000000000000, 1)

// Normalize returns the canonical form of an asset path: forward slashes,
// cleaned, lowercase, no leading "./" or "/".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(p)
}

// FromPath derives a stable 128-bit identifier from an asset path.
// Paths that normalize to the same string share an identifier.
func FromPath(p string) ident.Identifier {
	h, _ := blake2b.New(ident.ByteLen, nil) // размер 16 допустим, ошибки нет
	h.Write([]byte(Normalize(p)))
	sum := h.Sum(nil)

	id := ident.New(binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:]))
	if id.IsZero() {
		return fallback
	}
	return id
}

// Table maps asset paths to identifiers.
// Explicit assignments (identifiers already stored next to the asset) win over
// derivation. Thread-safe.
type Table struct {
	mu       sync.RWMutex
	assigned map[string]ident.Identifier
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{assigned: make(map[string]ident.Identifier, 64)}
}

// Assign records an explicit identifier for path. A zero id removes the override.
func (t *Table) Assign(p string, id ident.Identifier) {
	key := Normalize(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	if id.IsZero() {
		delete(t.assigned, key)
		return
	}
	t.assigned[key] = id
}

// Lookup returns the identifier for path, deriving it when not assigned.
func (t *Table) Lookup(p string) ident.Identifier {
	key := Normalize(p)
	t.mu.RLock()
	id, ok := t.assigned[key]
	t.mu.RUnlock()
	if ok {
		return id
	}
	return FromPath(key)
}

// Len returns the number of explicit assignments.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.assigned)
}
