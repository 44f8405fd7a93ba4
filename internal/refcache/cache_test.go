package refcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/model"
	"github.com/udisondev/sceneref/internal/ref"
	"github.com/udisondev/sceneref/internal/resolver"
)

var sceneA = ident.New(0xAAAA, 0xAAAA)

func TestNewRejectsBadSize(t *testing.T) {
	_, err := New(resolver.New(), 0)
	assert.Error(t, err)
}

func TestResolveHitsAndMisses(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)

	obj := model.NewPlacedObject(sceneA, 0, "Door")
	reg.Register(obj)

	c, err := New(dir, 8)
	require.NoError(t, err)

	got, ok := c.Resolve(obj.Reference())
	require.True(t, ok)
	assert.Same(t, obj, got)

	got, ok = c.Resolve(obj.Reference())
	require.True(t, ok)
	assert.Same(t, obj, got)

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
	assert.Equal(t, 1, c.Len())
}

func TestResolveNotCachedWhenMissing(t *testing.T) {
	dir := resolver.New()
	c, err := New(dir, 8)
	require.NoError(t, err)

	_, ok := c.Resolve(ref.Of(sceneA, 1))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Resolve(ref.Empty)
	assert.False(t, ok)
}

func TestResolveStaleAfterUnregister(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)

	obj := model.NewPlacedObject(sceneA, 0, "Door")
	reg.Register(obj)
	r := obj.Reference()

	c, err := New(dir, 8)
	require.NoError(t, err)
	_, ok := c.Resolve(r)
	require.True(t, ok)

	reg.UnregisterObject(obj)

	_, ok = c.Resolve(r)
	assert.False(t, ok, "cache must not return an unregistered object")
	assert.Equal(t, uint64(1), c.Stats().Stale)
	assert.Equal(t, 0, c.Len())
}

func TestResolveStaleAfterUnload(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)
	obj := model.NewPlacedObject(sceneA, 0, "Door")
	reg.Register(obj)

	c, err := New(dir, 8)
	require.NoError(t, err)
	_, ok := c.Resolve(obj.Reference())
	require.True(t, ok)

	require.NoError(t, dir.OnCollectionUnload(1))
	_, ok = c.Resolve(obj.Reference())
	assert.False(t, ok)
}

func TestResolveRefreshesReplacedObject(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)

	old := model.NewPlacedObject(sceneA, 5, "Old")
	reg.Register(old)

	c, err := New(dir, 8)
	require.NoError(t, err)
	_, ok := c.Resolve(ref.Of(sceneA, 5))
	require.True(t, ok)

	reg.UnregisterObject(old)
	fresh := model.NewPlacedObject(sceneA, 5, "Fresh")
	reg.Register(fresh)

	got, ok := c.Resolve(ref.Of(sceneA, 5))
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestBoundedEviction(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)

	c, err := New(dir, 2)
	require.NoError(t, err)

	objs := make([]*model.SceneObject, 0, 4)
	for range 4 {
		obj := model.NewPlacedObject(sceneA, 0, "o")
		reg.Register(obj)
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		_, ok := c.Resolve(obj.Reference())
		require.True(t, ok)
	}
	assert.Equal(t, 2, c.Len())
}

func TestInvalidateAndPurge(t *testing.T) {
	dir := resolver.New()
	reg, err := dir.OnCollectionLoad(1, sceneA)
	require.NoError(t, err)
	a := model.NewPlacedObject(sceneA, 0, "a")
	b := model.NewPlacedObject(sceneA, 0, "b")
	reg.Register(a)
	reg.Register(b)

	c, err := New(dir, 8)
	require.NoError(t, err)
	c.Resolve(a.Reference())
	c.Resolve(b.Reference())
	require.Equal(t, 2, c.Len())

	c.Invalidate(a.Reference())
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}
