package collection

import (
	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
)

// Object is any live object that can be registered with a collection.
//
// Identifier is the collection id for a plain placed object, or the template
// id for a template instance. InstanceID is the requested id: zero asks the
// registry for a fresh one, non-zero carries an id from a previous session.
type Object interface {
	Identifier() ident.Identifier
	InstanceID() uint64
}

// IDAssigner is implemented by objects that want to learn the id the registry
// settled on. AssignInstanceID is called under the registry lock, before any
// resolver can observe the object.
type IDAssigner interface {
	AssignInstanceID(id uint64)
}

// Accept filters resolution candidates by capability. A nil Accept takes
// every candidate.
type Accept func(Object) bool

func (a Accept) ok(obj Object) bool {
	return a == nil || a(obj)
}

// Key returns the reference under which obj is addressable once registered.
func Key(obj Object) ref.Reference {
	return ref.Of(obj.Identifier(), obj.InstanceID())
}
