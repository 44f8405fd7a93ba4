package model

import (
	"maps"
	"slices"
	"sync"

	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
)

// SceneObject is a persistent object living in a collection.
// Either a plain placed object (identifier = collection id) or an instance of
// a template (identifier = template id). Carries named reference fields.
type SceneObject struct {
	identifier ident.Identifier // immutable после создания
	instanceID uint64
	name       string
	refs       map[string]ref.Reference

	mu sync.RWMutex
}

// NewPlacedObject creates a plain object placed in collection.
// instanceID is the id carried from a previous session, or 0 for a fresh one.
func NewPlacedObject(collection ident.Identifier, instanceID uint64, name string) *SceneObject {
	return &SceneObject{
		identifier: collection,
		instanceID: instanceID,
		name:       name,
		refs:       make(map[string]ref.Reference, 2),
	}
}

// NewTemplateInstance creates an instance of template.
func NewTemplateInstance(template ident.Identifier, instanceID uint64, name string) *SceneObject {
	return &SceneObject{
		identifier: template,
		instanceID: instanceID,
		name:       name,
		refs:       make(map[string]ref.Reference, 2),
	}
}

// Identifier returns the collection or template identifier.
func (o *SceneObject) Identifier() ident.Identifier {
	return o.identifier
}

// InstanceID returns the current instance id (0 until registered, if none was carried).
func (o *SceneObject) InstanceID() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.instanceID
}

// AssignInstanceID records the id chosen by the registry.
func (o *SceneObject) AssignInstanceID(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.instanceID = id
}

// IsTemplateInstance reports whether the object is a template instance when
// placed in collection.
func (o *SceneObject) IsTemplateInstance(collection ident.Identifier) bool {
	return o.identifier != collection
}

// Reference returns the reference another object would store to address
// exactly this object.
func (o *SceneObject) Reference() ref.Reference {
	return ref.Of(o.identifier, o.InstanceID())
}

// Name returns the object name.
func (o *SceneObject) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// SetName sets the object name.
func (o *SceneObject) SetName(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.name = name
}

// Ref returns the reference stored in field.
func (o *SceneObject) Ref(field string) (ref.Reference, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.refs[field]
	return r, ok
}

// SetRef stores r in field.
func (o *SceneObject) SetRef(field string, r ref.Reference) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs[field] = r
}

// ClearRef removes field.
func (o *SceneObject) ClearRef(field string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.refs, field)
}

// Refs returns a copy of all reference fields.
func (o *SceneObject) Refs() map[string]ref.Reference {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.refs)
}

// RefFields returns the reference field names, sorted.
func (o *SceneObject) RefFields() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Sorted(maps.Keys(o.refs))
}

// Clone creates an unregistered copy with the same identifier, carried
// instance id and reference fields. Used for runtime instantiation; the
// registry renumbers the carried id if it is already taken.
func (o *SceneObject) Clone(name string) *SceneObject {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &SceneObject{
		identifier: o.identifier,
		instanceID: o.instanceID,
		name:       name,
		refs:       maps.Clone(o.refs),
	}
}
