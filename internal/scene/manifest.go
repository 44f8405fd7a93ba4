package scene

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/sceneref/internal/assetid"
	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
)

// Manifest is the on-disk description of one collection.
//
//	collection: 9c1f...32 hex
//	name: Level01
//	objects:
//	  - name: Door
//	    instance_id: 1
//	  - name: Spawner
//	    template: assets/prefabs/spawner.prefab
//	    instance_id: 4
//	    refs:
//	      target: 9c1f...:0000000000000001
type Manifest struct {
	Collection ident.Identifier `yaml:"collection"`
	Name       string           `yaml:"name,omitempty"`
	Objects    []ObjectEntry    `yaml:"objects"`
}

// ObjectEntry describes one persistent object.
// Template (asset path) or TemplateID selects a template instance; neither
// means a plain placed object.
type ObjectEntry struct {
	Name       string                   `yaml:"name"`
	InstanceID uint64                   `yaml:"instance_id,omitempty"`
	Template   string                   `yaml:"template,omitempty"`
	TemplateID ident.Identifier         `yaml:"template_id,omitempty"`
	Refs       map[string]ref.Reference `yaml:"refs,omitempty"`
}

// Identifier returns the identifier an object built from e is registered
// under: the template id for template instances, collection otherwise.
func (e ObjectEntry) Identifier(collection ident.Identifier, assets *assetid.Table) ident.Identifier {
	switch {
	case !e.TemplateID.IsZero():
		return e.TemplateID
	case e.Template != "":
		if assets != nil {
			return assets.Lookup(e.Template)
		}
		return assetid.FromPath(e.Template)
	default:
		return collection
	}
}

// Validate checks the manifest for structural errors.
func (m *Manifest) Validate() error {
	if m.Collection.IsZero() {
		return fmt.Errorf("%w: collection identifier is zero", ErrInvalidManifest)
	}
	for i, obj := range m.Objects {
		if obj.Template != "" && !obj.TemplateID.IsZero() {
			return fmt.Errorf("%w: object %d (%q) sets both template and template_id",
				ErrInvalidManifest, i, obj.Name)
		}
		if obj.TemplateID == m.Collection && !obj.TemplateID.IsZero() {
			return fmt.Errorf("%w: object %d (%q) uses the collection id as template",
				ErrInvalidManifest, i, obj.Name)
		}
	}
	return nil
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest %s: %w", m.Collection, err)
	}
	return data, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// SaveManifest writes m to path.
func SaveManifest(path string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifests reads every path in parallel. The result keeps the order of
// paths; the first error cancels the rest.
func LoadManifests(ctx context.Context, paths []string) ([]*Manifest, error) {
	out := make([]*Manifest, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := LoadManifest(path)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
