package resolver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/sceneref/internal/collection"
	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/model"
	"github.com/udisondev/sceneref/internal/ref"
)

var (
	sceneA    = ident.MustParse("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sceneB    = ident.MustParse("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	templateT = ident.MustParse("77777777777777777777777777777777")
)

// lamp is a registrant of a different Go type, used to check type filtering.
type lamp struct {
	id   ident.Identifier
	inst uint64
}

func (l *lamp) Identifier() ident.Identifier { return l.id }
func (l *lamp) InstanceID() uint64           { return l.inst }
func (l *lamp) AssignInstanceID(id uint64)   { l.inst = id }

func mustLoad(t *testing.T, d *Directory, h Handle, id ident.Identifier) *collection.Registry {
	t.Helper()
	reg, err := d.OnCollectionLoad(h, id)
	require.NoError(t, err, "OnCollectionLoad(%d, %s)", h, id)
	return reg
}

func TestLoadUnload(t *testing.T) {
	d := New()

	reg := mustLoad(t, d, 1, sceneA)
	assert.Equal(t, sceneA, reg.ID())
	assert.Equal(t, 1, d.Len())

	got, ok := d.Registry(1)
	require.True(t, ok)
	assert.Same(t, reg, got)

	got, ok = d.Collection(sceneA)
	require.True(t, ok)
	assert.Same(t, reg, got)
	assert.Equal(t, []ident.Identifier{sceneA}, d.Collections())

	require.NoError(t, d.OnCollectionUnload(1))
	assert.Equal(t, 0, d.Len())
	_, ok = d.Registry(1)
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	d := New()

	_, err := d.OnCollectionLoad(1, ident.Zero)
	assert.ErrorIs(t, err, ErrZeroIdentifier)

	mustLoad(t, d, 1, sceneA)
	_, err = d.OnCollectionLoad(1, sceneB)
	assert.ErrorIs(t, err, ErrHandleConflict)

	err = d.OnCollectionUnload(99)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestAdditiveLoadSharesRegistry(t *testing.T) {
	d := New()

	r1 := mustLoad(t, d, 1, sceneA)
	r2 := mustLoad(t, d, 2, sceneA)
	assert.Same(t, r1, r2)
	assert.Equal(t, int32(2), r1.Refs())
	assert.Equal(t, 1, d.Len())
}

// Scenario: plain object and template instance with the same id.
func TestScenario_PlacedAndTemplateSameID(t *testing.T) {
	d := New()
	reg := mustLoad(t, d, 1, sceneA)

	obj1 := model.NewPlacedObject(sceneA, 0, "obj1")
	require.Equal(t, uint64(1), reg.Register(obj1))

	inst := model.NewTemplateInstance(templateT, 1, "inst")
	require.Equal(t, uint64(1), reg.Register(inst))

	got, ok := d.FindFirst(ref.Of(templateT, 1), nil)
	require.True(t, ok)
	assert.Same(t, inst, got)

	got, ok = d.FindFirst(ref.Of(sceneA, 1), nil)
	require.True(t, ok)
	assert.Same(t, obj1, got)
}

// Scenario: collection loaded twice survives one release.
func TestScenario_DoubleLoad(t *testing.T) {
	d := New()
	reg := mustLoad(t, d, 1, sceneA)
	mustLoad(t, d, 2, sceneA)

	obj1 := model.NewPlacedObject(sceneA, 0, "obj1")
	reg.Register(obj1)
	r := obj1.Reference()

	require.NoError(t, d.OnCollectionUnload(1))
	got, ok := d.FindFirst(r, nil)
	require.True(t, ok, "registry must survive the first release")
	assert.Same(t, obj1, got)

	require.NoError(t, d.OnCollectionUnload(2))
	_, ok = d.FindFirst(r, nil)
	assert.False(t, ok)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0, reg.Len(), "objects are dropped on teardown")
}

func TestSameHandleLoadedTwice(t *testing.T) {
	d := New()
	reg := mustLoad(t, d, 7, sceneA)
	mustLoad(t, d, 7, sceneA)
	obj := model.NewPlacedObject(sceneA, 0, "x")
	reg.Register(obj)

	require.NoError(t, d.OnCollectionUnload(7))
	_, ok := d.Registry(7)
	assert.True(t, ok, "handle stays while it has loads left")
	_, ok = d.FindFirst(obj.Reference(), nil)
	assert.True(t, ok)

	require.NoError(t, d.OnCollectionUnload(7))
	_, ok = d.Registry(7)
	assert.False(t, ok)
	assert.ErrorIs(t, d.OnCollectionUnload(7), ErrNotLoaded)
}

func TestAcquireReleaseSymmetry(t *testing.T) {
	d := New()
	const n = 5
	var reg *collection.Registry
	for i := range n {
		reg = mustLoad(t, d, Handle(i+1), sceneA)
	}
	objs := make([]*model.SceneObject, 0, 10)
	for range 10 {
		obj := model.NewPlacedObject(sceneA, 0, "o")
		reg.Register(obj)
		objs = append(objs, obj)
	}

	for i := range n {
		require.NoError(t, d.OnCollectionUnload(Handle(i+1)))
	}

	_, ok := d.Collection(sceneA)
	assert.False(t, ok)
	for _, obj := range objs {
		_, ok := d.FindFirst(obj.Reference(), nil)
		assert.False(t, ok)
	}
}

// Scenario: any instance of T across two collections.
func TestScenario_AnyInstanceAcrossCollections(t *testing.T) {
	d := New()
	regA := mustLoad(t, d, 1, sceneA)
	regB := mustLoad(t, d, 2, sceneB)

	instA := model.NewTemplateInstance(templateT, 0, "inA")
	instB := model.NewTemplateInstance(templateT, 0, "inB")
	regA.Register(instA)
	regB.Register(instB)

	for range 50 {
		got, ok := d.FindFirst(ref.Any(templateT), nil)
		require.True(t, ok, "must never return none while an instance exists")
		assert.True(t, got == instA || got == instB)
	}

	all := d.FindAll(ref.Any(templateT), nil, nil)
	assert.ElementsMatch(t, []collection.Object{instA, instB}, all)

	regA.UnregisterObject(instA)
	got, ok := d.FindFirst(ref.Any(templateT), nil)
	require.True(t, ok)
	assert.Same(t, instB, got)
}

func TestFindSpecificTemplateInstanceInOtherCollection(t *testing.T) {
	d := New()
	mustLoad(t, d, 1, sceneA)
	regB := mustLoad(t, d, 2, sceneB)

	inst := model.NewTemplateInstance(templateT, 42, "inB")
	regB.Register(inst)

	got, ok := d.FindFirst(ref.Of(templateT, 42), nil)
	require.True(t, ok)
	assert.Same(t, inst, got)

	_, ok = d.FindFirst(ref.Of(templateT, 43), nil)
	assert.False(t, ok)
}

func TestSpecificCollectionRefNeverResolvesToTemplate(t *testing.T) {
	d := New()
	mustLoad(t, d, 1, sceneA)
	regB := mustLoad(t, d, 2, sceneB)

	// в B лежит экземпляр, чей identifier (ошибочно) равен id коллекции A
	regB.Register(model.NewTemplateInstance(sceneA, 3, "impostor"))

	_, ok := d.FindFirst(ref.Of(sceneA, 3), nil)
	assert.False(t, ok, "(A,3) must look only in A's local table")
	assert.Empty(t, d.FindAll(ref.Of(sceneA, 3), nil, nil))
}

func TestUnloadedCollectionReference(t *testing.T) {
	d := New()
	mustLoad(t, d, 1, sceneA)

	_, ok := d.FindFirst(ref.Of(sceneB, 1), nil)
	assert.False(t, ok)
	_, ok = d.FindFirst(ref.Empty, nil)
	assert.False(t, ok)
	assert.Empty(t, d.FindAll(ref.Empty, nil, nil))
}

func TestUnregisterThenReRegister(t *testing.T) {
	d := New()
	reg := mustLoad(t, d, 1, sceneA)

	obj := model.NewPlacedObject(sceneA, 0, "obj")
	id := reg.Register(obj)
	r := ref.Of(sceneA, id)

	reg.UnregisterObject(obj)
	_, ok := d.FindFirst(r, nil)
	assert.False(t, ok)

	again := model.NewPlacedObject(sceneA, id, "again")
	require.Equal(t, id, reg.Register(again))
	got, ok := d.FindFirst(r, nil)
	require.True(t, ok)
	assert.Same(t, again, got)
}

func TestTypeFiltering(t *testing.T) {
	d := New()
	regA := mustLoad(t, d, 1, sceneA)
	regB := mustLoad(t, d, 2, sceneB)

	l := &lamp{id: templateT}
	regA.Register(model.NewTemplateInstance(templateT, 0, "obj"))
	regB.Register(l)

	for range 20 {
		got, ok := Resolve[*lamp](d, ref.Any(templateT))
		require.True(t, ok, "non-matching candidates are skipped, not fatal")
		assert.Same(t, l, got)
	}

	objs := ResolveAll[*model.SceneObject](d, ref.Any(templateT))
	require.Len(t, objs, 1)
	assert.Equal(t, "obj", objs[0].Name())

	_, ok := Resolve[*lamp](d, ref.Of(sceneA, 1))
	assert.False(t, ok)
}

func TestGenerationMovesOnEveryMutation(t *testing.T) {
	d := New()
	g := d.Generation()

	reg := mustLoad(t, d, 1, sceneA)
	assert.Greater(t, d.Generation(), g)
	g = d.Generation()

	obj := model.NewPlacedObject(sceneA, 0, "o")
	reg.Register(obj)
	assert.Greater(t, d.Generation(), g, "registry mutations bump the directory generation")
	g = d.Generation()

	_, _ = d.FindFirst(obj.Reference(), nil)
	assert.Equal(t, g, d.Generation(), "resolution is read-only")

	require.NoError(t, d.OnCollectionUnload(1))
	assert.Greater(t, d.Generation(), g)
}

func TestRegistryOptionsPropagate(t *testing.T) {
	var mu sync.Mutex
	var events []collection.DuplicateEvent
	d := New(WithRegistryOptions(collection.WithDuplicateHook(func(e collection.DuplicateEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})))
	reg := mustLoad(t, d, 1, sceneA)

	reg.Register(model.NewPlacedObject(sceneA, 4, "a"))
	reg.Register(model.NewPlacedObject(sceneA, 4, "b"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(4), events[0].Requested)
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestConcurrentLoadResolveUnload(t *testing.T) {
	d := New()
	base := mustLoad(t, d, 1, sceneA)
	anchor := model.NewTemplateInstance(templateT, 0, "anchor")
	base.Register(anchor)

	var readers, writers sync.WaitGroup
	stop := make(chan struct{})

	// Читатели: пока A загружена, "any T" обязан находиться.
	for range 8 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, ok := d.FindFirst(ref.Any(templateT), nil)
				assert.True(t, ok)
				_ = d.FindAll(ref.Any(templateT), nil, nil)
			}
		}()
	}

	// Writers churn collection B with template instances.
	for w := range 4 {
		writers.Add(1)
		go func(h Handle) {
			defer writers.Done()
			for range 200 {
				reg, err := d.OnCollectionLoad(h, sceneB)
				if !assert.NoError(t, err) {
					return
				}
				inst := model.NewTemplateInstance(templateT, 1, "churn")
				reg.Register(inst)
				reg.UnregisterObject(inst)
				assert.NoError(t, d.OnCollectionUnload(h))
			}
		}(Handle(100 + w))
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	_, ok := d.Collection(sceneB)
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())
}
