// Package scene is the host-side adapter between collection manifests and the
// resolver: it turns manifests into live objects, registers them when a
// collection opens and unregisters them when it closes.
package scene

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/udisondev/sceneref/internal/assetid"
	"github.com/udisondev/sceneref/internal/collection"
	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/model"
	"github.com/udisondev/sceneref/internal/ref"
	"github.com/udisondev/sceneref/internal/resolver"
)

// Host opens and closes collections against a directory.
// Thread-safe.
type Host struct {
	dir    *resolver.Directory
	assets *assetid.Table
	logger *slog.Logger

	nextHandle atomic.Uint64
}

// NewHost creates a host. assets may be nil, in which case template paths are
// derived with assetid.FromPath.
func NewHost(dir *resolver.Directory, assets *assetid.Table, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{dir: dir, assets: assets, logger: logger}
}

// Directory returns the directory the host loads into.
func (h *Host) Directory() *resolver.Directory {
	return h.dir
}

// Scene is one opened collection.
type Scene struct {
	mu sync.RWMutex

	handle   resolver.Handle
	name     string
	registry *collection.Registry
	objects  []*model.SceneObject
	closed   bool
	host     *Host
}

// Open loads m as a new collection handle and registers every object. Objects
// are resolvable once Open returns.
func (h *Host) Open(m *Manifest) (*Scene, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	handle := resolver.Handle(h.nextHandle.Add(1))
	reg, err := h.dir.OnCollectionLoad(handle, m.Collection)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", m.Collection, err)
	}

	s := &Scene{
		handle:   handle,
		name:     m.Name,
		registry: reg,
		objects:  make([]*model.SceneObject, 0, len(m.Objects)),
		host:     h,
	}

	for _, entry := range m.Objects {
		obj := h.build(m.Collection, entry)
		reg.Register(obj)
		s.objects = append(s.objects, obj)
	}

	h.logger.Debug("scene opened",
		"collection", m.Collection,
		"name", m.Name,
		"handle", handle,
		"objects", len(s.objects),
		"duplicates", reg.Duplicates())
	return s, nil
}

func (h *Host) build(collectionID ident.Identifier, e ObjectEntry) *model.SceneObject {
	id := e.Identifier(collectionID, h.assets)
	var obj *model.SceneObject
	if id == collectionID {
		obj = model.NewPlacedObject(collectionID, e.InstanceID, e.Name)
	} else {
		obj = model.NewTemplateInstance(id, e.InstanceID, e.Name)
	}
	for field, r := range e.Refs {
		obj.SetRef(field, r)
	}
	return obj
}

// Close unregisters the scene's objects and unloads its handle. Idempotent.
func (h *Host) Close(s *Scene) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	objects := s.objects
	s.objects = nil
	s.mu.Unlock()

	for _, obj := range objects {
		s.registry.UnregisterObject(obj)
	}
	if err := h.dir.OnCollectionUnload(s.handle); err != nil {
		return fmt.Errorf("closing collection %s: %w", s.registry.ID(), err)
	}

	h.logger.Debug("scene closed",
		"collection", s.registry.ID(),
		"handle", s.handle)
	return nil
}

// Handle returns the directory handle of the scene.
func (s *Scene) Handle() resolver.Handle { return s.handle }

// ID returns the collection identifier.
func (s *Scene) ID() ident.Identifier { return s.registry.ID() }

// Name returns the collection name from the manifest.
func (s *Scene) Name() string { return s.name }

// Registry returns the collection registry backing the scene.
func (s *Scene) Registry() *collection.Registry { return s.registry }

// Objects returns the scene's objects in manifest order followed by runtime
// instances in creation order.
func (s *Scene) Objects() []*model.SceneObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.objects)
}

// Find returns the first object named name.
func (s *Scene) Find(name string) *model.SceneObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obj := range s.objects {
		if obj.Name() == name {
			return obj
		}
	}
	return nil
}

// Instantiate places a runtime instance of template in this scene. The
// carried instance id of template is kept when free and renumbered otherwise.
func (s *Scene) Instantiate(template *model.SceneObject, name string) (*model.SceneObject, error) {
	obj := template.Clone(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSceneClosed
	}
	s.registry.Register(obj)
	s.objects = append(s.objects, obj)
	return obj, nil
}

// Destroy unregisters obj and drops it from the scene.
func (s *Scene) Destroy(obj *model.SceneObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSceneClosed
	}
	i := slices.Index(s.objects, obj)
	if i < 0 {
		return ErrForeignObject
	}
	s.objects = slices.Delete(s.objects, i, i+1)
	s.registry.UnregisterObject(obj)
	return nil
}

// Snapshot renders the scene back into a manifest with the final instance ids.
// Template instances are written with template_id so the snapshot does not
// depend on the asset table.
func (s *Scene) Snapshot() *Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := s.registry.ID()
	m := &Manifest{
		Collection: id,
		Name:       s.name,
		Objects:    make([]ObjectEntry, 0, len(s.objects)),
	}
	for _, obj := range s.objects {
		entry := ObjectEntry{
			Name:       obj.Name(),
			InstanceID: obj.InstanceID(),
		}
		if obj.IsTemplateInstance(id) {
			entry.TemplateID = obj.Identifier()
		}
		if refs := obj.Refs(); len(refs) > 0 {
			entry.Refs = refs
		}
		m.Objects = append(m.Objects, entry)
	}
	return m
}

// Dangling is a reference field that currently resolves to nothing.
type Dangling struct {
	Object *model.SceneObject
	Field  string
	Ref    ref.Reference
}

// Unresolved lists every non-null reference field of the scene that does not
// resolve in dir, ordered by object then field.
func (s *Scene) Unresolved(dir *resolver.Directory) []Dangling {
	s.mu.RLock()
	objects := slices.Clone(s.objects)
	s.mu.RUnlock()

	var out []Dangling
	for _, obj := range objects {
		refs := obj.Refs()
		for _, field := range obj.RefFields() {
			r, ok := refs[field]
			if !ok || r.IsNull() {
				continue
			}
			if _, found := dir.FindFirst(r, nil); !found {
				out = append(out, Dangling{Object: obj, Field: field, Ref: r})
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Dangling) int {
		return cmp.Compare(a.Object.Name(), b.Object.Name())
	})
	return out
}
