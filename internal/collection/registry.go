// Package collection implements the per-collection object registry.
//
// A Registry tracks every live object of one loaded collection ("scene") in two
// tables: plain placed objects by instance id, and template instances grouped
// by template identifier. Instance ids are unique within a table, so a placed
// object (A, 1) and a template instance (T, 1) coexist.
//
// The registry does not own object lifetimes; registrants unregister on teardown.
// Registered objects must be comparable (pointer types in practice).
package collection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
)

// Registry is the object table of one loaded collection.
// Thread-safe for concurrent access.
type Registry struct {
	mu sync.RWMutex

	id     ident.Identifier
	local  map[uint64]Object                      // instanceID → plain placed object
	groups map[ident.Identifier]map[uint64]Object // templateID → instanceID → instance
	nextID uint64                                 // last fresh id handed out
	refs   int32                                  // load reference count

	duplicates  atomic.Uint64
	gen         *atomic.Uint64
	logger      *slog.Logger
	onDuplicate func(DuplicateEvent)
}

// New creates an empty registry for collection id with a zero load count.
func New(id ident.Identifier, opts ...Option) *Registry {
	r := &Registry{
		id:     id,
		local:  make(map[uint64]Object, 64),
		groups: make(map[ident.Identifier]map[uint64]Object, 8),
		gen:    new(atomic.Uint64),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the collection identifier (immutable).
func (r *Registry) ID() ident.Identifier {
	return r.id
}

// isPlain reports whether objects with identifier id live in the local table.
// A zero identifier is treated as a plain object of this collection.
func (r *Registry) isPlain(id ident.Identifier) bool {
	return id == r.id || id.IsZero()
}

// tableLocked returns the table an object with identifier id belongs to,
// creating the template group when create is set. Must be called with mu held.
func (r *Registry) tableLocked(id ident.Identifier, create bool) map[uint64]Object {
	if r.isPlain(id) {
		return r.local
	}
	group, ok := r.groups[id]
	if !ok && create {
		group = make(map[uint64]Object, 4)
		r.groups[id] = group
	}
	return group
}

// freshIDLocked advances the counter until it finds a value free in table.
// Zero is never returned. Must be called with mu held.
func (r *Registry) freshIDLocked(table map[uint64]Object) uint64 {
	for {
		r.nextID++
		if r.nextID == 0 {
			continue
		}
		if _, taken := table[r.nextID]; !taken {
			return r.nextID
		}
	}
}

// Register inserts obj and returns its final instance id.
//
// A free non-zero requested id is kept. A zero or already taken id is replaced
// by a fresh one; duplicates are counted and reported but never fail and never
// overwrite the existing holder.
func (r *Registry) Register(obj Object) uint64 {
	objID := obj.Identifier()
	requested := obj.InstanceID()

	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tableLocked(objID, true)

	assigned := requested
	if requested == 0 {
		assigned = r.freshIDLocked(table)
	} else if _, taken := table[requested]; taken {
		assigned = r.freshIDLocked(table)
		r.reportDuplicateLocked(objID, requested, assigned)
	}

	table[assigned] = obj
	if a, ok := obj.(IDAssigner); ok {
		a.AssignInstanceID(assigned)
	}
	r.gen.Add(1)
	return assigned
}

func (r *Registry) reportDuplicateLocked(objID ident.Identifier, requested, assigned uint64) {
	r.duplicates.Add(1)
	r.logger.Warn("duplicate instance id renumbered",
		"collection", r.id,
		"identifier", objID,
		"requested", requested,
		"assigned", assigned)
	if r.onDuplicate != nil {
		r.onDuplicate(DuplicateEvent{
			Collection: r.id,
			Identifier: objID,
			Requested:  requested,
			Assigned:   assigned,
		})
	}
}

// Unregister removes the object addressed by key from the local table or its
// template group. Idempotent.
func (r *Registry) Unregister(key ref.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key, nil)
}

// UnregisterObject removes obj only if it is still the object registered under
// its key, so a stale registrant never evicts a newer one. Idempotent.
func (r *Registry) UnregisterObject(obj Object) {
	key := Key(obj)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key, obj)
}

// removeLocked deletes key; when want is non-nil only if the stored object is want.
// Must be called with mu held.
func (r *Registry) removeLocked(key ref.Reference, want Object) {
	if key.InstanceID == 0 {
		return
	}
	table := r.tableLocked(key.Identifier, false)
	stored, ok := table[key.InstanceID]
	if !ok {
		return
	}
	if want != nil && stored != want {
		return
	}
	delete(table, key.InstanceID)
	if !r.isPlain(key.Identifier) && len(table) == 0 {
		delete(r.groups, key.Identifier)
	}
	r.gen.Add(1)
}

// Find resolves ref within this registry only.
//
// A specific reference whose identifier is this collection is looked up in the
// local table and never falls through to template groups. Otherwise the
// template group named by the identifier is searched: exact match for a
// specific id, first accepted candidate for "any".
func (r *Registry) Find(key ref.Reference, accept Accept) (Object, bool) {
	if key.IsNull() {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if key.IsSpecific() && key.Identifier == r.id {
		obj, ok := r.local[key.InstanceID]
		if !ok || !accept.ok(obj) {
			return nil, false
		}
		return obj, true
	}

	group := r.groups[key.Identifier]
	if key.IsSpecific() {
		obj, ok := group[key.InstanceID]
		if !ok || !accept.ok(obj) {
			return nil, false
		}
		return obj, true
	}
	for _, obj := range group {
		if accept.ok(obj) {
			return obj, true
		}
	}
	return nil, false
}

// FindAll appends every accepted match for key in this registry to out.
func (r *Registry) FindAll(key ref.Reference, accept Accept, out []Object) []Object {
	if key.IsNull() {
		return out
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if key.IsSpecific() && key.Identifier == r.id {
		if obj, ok := r.local[key.InstanceID]; ok && accept.ok(obj) {
			out = append(out, obj)
		}
		return out
	}

	group := r.groups[key.Identifier]
	if key.IsSpecific() {
		if obj, ok := group[key.InstanceID]; ok && accept.ok(obj) {
			out = append(out, obj)
		}
		return out
	}
	for _, obj := range group {
		if accept.ok(obj) {
			out = append(out, obj)
		}
	}
	return out
}

// Acquire increments the load reference count.
func (r *Registry) Acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs++
}

// Release decrements the load reference count. When it reaches zero both
// tables are cleared and Release returns true. Releasing more times than
// acquired is a programmer error and panics.
func (r *Registry) Release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs <= 0 {
		panic(fmt.Sprintf("collection %s released more times than acquired", r.id))
	}
	r.refs--
	if r.refs > 0 {
		return false
	}

	dropped := len(r.local)
	for _, group := range r.groups {
		dropped += len(group)
	}
	clear(r.local)
	clear(r.groups)
	r.gen.Add(1)

	r.logger.Debug("collection registry torn down",
		"collection", r.id,
		"dropped", dropped)
	return true
}

// Refs returns the current load reference count.
func (r *Registry) Refs() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs
}

// Len returns the number of registered objects in both tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.local)
	for _, group := range r.groups {
		n += len(group)
	}
	return n
}

// Duplicates returns how many registrations were renumbered because the
// requested id was taken.
func (r *Registry) Duplicates() uint64 {
	return r.duplicates.Load()
}

// Generation returns the mutation counter value.
func (r *Registry) Generation() uint64 {
	return r.gen.Load()
}

// Objects returns a snapshot of every registered object, in no particular order.
func (r *Registry) Objects() []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	objs := make([]Object, 0, len(r.local))
	for _, obj := range r.local {
		objs = append(objs, obj)
	}
	for _, group := range r.groups {
		for _, obj := range group {
			objs = append(objs, obj)
		}
	}
	return objs
}
