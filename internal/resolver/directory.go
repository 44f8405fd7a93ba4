// Package resolver implements the process-wide directory of loaded collection
// registries and reference resolution across them.
//
// Resolution order for FindFirst:
//  1. null reference → nothing;
//  2. specific id and a loaded collection with that identifier → that
//     collection's local table only;
//  3. otherwise every loaded collection's template group for the identifier,
//     exact id or first accepted live instance;
//  4. candidates rejected by the accept filter are skipped, not fatal;
//  5. no candidate → (nil, false).
//
// Resolution never caches and never mutates.
package resolver

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/udisondev/sceneref/internal/collection"
	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
)

// Handle is the opaque token the host uses for a loaded collection.
type Handle uint64

// handleEntry tracks one host handle; the same handle may be loaded more than once.
type handleEntry struct {
	registry *collection.Registry
	loads    int
}

// Directory maps loaded collections to their registries.
// Thread-safe; lock order is directory then registry.
type Directory struct {
	mu          sync.RWMutex
	handles     map[Handle]*handleEntry
	collections map[ident.Identifier]*collection.Registry

	gen     atomic.Uint64
	logger  *slog.Logger
	regOpts []collection.Option
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger for the directory and the registries it creates.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRegistryOptions passes options to every registry the directory creates.
func WithRegistryOptions(opts ...collection.Option) Option {
	return func(d *Directory) {
		d.regOpts = append(d.regOpts, opts...)
	}
}

// New creates an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		handles:     make(map[Handle]*handleEntry, 16),
		collections: make(map[ident.Identifier]*collection.Registry, 16),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var (
	defaultDir  *Directory
	defaultOnce sync.Once
)

// Default returns the process-wide directory.
func Default() *Directory {
	defaultOnce.Do(func() {
		defaultDir = New()
	})
	return defaultDir
}

// OnCollectionLoad is called by the host when collection id becomes active
// under handle h. The registry for id is created on first load and acquired
// on every load, so additive loads of the same collection share it.
func (d *Directory) OnCollectionLoad(h Handle, id ident.Identifier) (*collection.Registry, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("load handle %d: %w", h, ErrZeroIdentifier)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.handles[h]; ok {
		if entry.registry.ID() != id {
			return nil, fmt.Errorf("load handle %d as %s (bound to %s): %w",
				h, id, entry.registry.ID(), ErrHandleConflict)
		}
		entry.loads++
		entry.registry.Acquire()
		d.gen.Add(1)
		return entry.registry, nil
	}

	reg, ok := d.collections[id]
	if !ok {
		opts := make([]collection.Option, 0, len(d.regOpts)+2)
		opts = append(opts, collection.WithLogger(d.logger), collection.WithGeneration(&d.gen))
		opts = append(opts, d.regOpts...)
		reg = collection.New(id, opts...)
		d.collections[id] = reg
	}
	reg.Acquire()
	d.handles[h] = &handleEntry{registry: reg, loads: 1}
	d.gen.Add(1)

	d.logger.Debug("collection loaded",
		"handle", h,
		"collection", id,
		"refs", reg.Refs())
	return reg, nil
}

// OnCollectionUnload is called by the host when handle h becomes inactive.
// The registry is removed from the directory once its count reaches zero.
func (d *Directory) OnCollectionUnload(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.handles[h]
	if !ok {
		return fmt.Errorf("unload handle %d: %w", h, ErrNotLoaded)
	}

	entry.loads--
	if entry.loads == 0 {
		delete(d.handles, h)
	}

	reg := entry.registry
	if reg.Release() {
		delete(d.collections, reg.ID())
	}
	d.gen.Add(1)

	d.logger.Debug("collection unloaded",
		"handle", h,
		"collection", reg.ID(),
		"refs", reg.Refs())
	return nil
}

// Registry returns the registry loaded under handle h.
func (d *Directory) Registry(h Handle) (*collection.Registry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.handles[h]
	if !ok {
		return nil, false
	}
	return entry.registry, true
}

// Collection returns the loaded registry for collection id.
func (d *Directory) Collection(id ident.Identifier) (*collection.Registry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.collections[id]
	return reg, ok
}

// Collections returns a snapshot of loaded collection identifiers.
func (d *Directory) Collections() []ident.Identifier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]ident.Identifier, 0, len(d.collections))
	for id := range d.collections {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of loaded collections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections)
}

// Generation changes whenever a collection is loaded or unloaded or any
// registry created by this directory is mutated.
func (d *Directory) Generation() uint64 {
	return d.gen.Load()
}

// FindFirst resolves r to one live object, or (nil, false).
// When r asks for "any instance", which instance is returned is unspecified.
func (d *Directory) FindFirst(r ref.Reference, accept collection.Accept) (collection.Object, bool) {
	if r.IsNull() {
		return nil, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if r.IsSpecific() {
		if reg, ok := d.collections[r.Identifier]; ok {
			// Ссылка на конкретный объект коллекции: в шаблонах не ищем.
			return reg.Find(r, accept)
		}
	}

	for _, reg := range d.collections {
		if obj, ok := reg.Find(r, accept); ok {
			return obj, true
		}
	}
	return nil, false
}

// FindAll appends every live match of r across all loaded collections to out.
func (d *Directory) FindAll(r ref.Reference, accept collection.Accept, out []collection.Object) []collection.Object {
	if r.IsNull() {
		return out
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if r.IsSpecific() {
		if reg, ok := d.collections[r.Identifier]; ok {
			return reg.FindAll(r, accept, out)
		}
	}

	for _, reg := range d.collections {
		out = reg.FindAll(r, accept, out)
	}
	return out
}

// Resolve resolves r to the first live object that is a T.
func Resolve[T any](d *Directory, r ref.Reference) (T, bool) {
	var zero T
	obj, ok := d.FindFirst(r, isA[T])
	if !ok {
		return zero, false
	}
	return obj.(T), true
}

// ResolveAll returns every live object matching r that is a T.
func ResolveAll[T any](d *Directory, r ref.Reference) []T {
	objs := d.FindAll(r, isA[T], nil)
	out := make([]T, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.(T))
	}
	return out
}

func isA[T any](obj collection.Object) bool {
	_, ok := obj.(T)
	return ok
}
