package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/strata/internal/ir"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "world.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSQLite_OpenIdempotent tests opening an existing database succeeds.
func TestSQLite_OpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

// TestSQLite_ApplyPersists tests world state survives close and reopen.
func TestSQLite_ApplyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	parent := ref("a", 1)
	mustApply(t, s,
		create("a", 1, map[string]ir.Object{"Transform": {"position": ir.Vec3{1, 2, 3}}}),
		create("a", 2, nil),
		ir.Patch{Source: "a", Kind: ir.EntityPatch{
			Entity: ref("a", 2),
			Op:     ir.EntityOp{Kind: ir.EntityAddTag, Tag: "prop"},
		}},
		ir.Patch{Source: "a", Kind: ir.HierarchyPatch{
			Entity: ref("a", 2),
			Op:     ir.HierarchyOp{Kind: ir.HierarchyAttach, Parent: &parent},
		}},
		ir.Patch{Source: "a", Kind: ir.LayerPatch{
			LayerID: "fog",
			Op:      ir.LayerOp{Kind: ir.LayerSetProperty, Property: "density", Value: ir.Float(0.25)},
		}},
		ir.Patch{Source: "a", Kind: ir.AssetPatch{
			AssetID: "mesh:rock",
			Op:      ir.AssetOp{Kind: ir.AssetLoad, Path: "meshes/rock.glb", AssetType: "mesh"},
		}},
		ir.Patch{Source: "a", Kind: ir.CameraPatch{
			Entity: ref("a", 1),
			Op:     ir.CameraOp{Kind: ir.CameraMakeActive},
		}},
		ir.Patch{Source: "a", Kind: ir.CameraPatch{
			Entity: ref("a", 1),
			Op:     ir.CameraOp{Kind: ir.CameraSetProjection, Data: ir.Object{"fov": ir.Float(60.0)}},
		}},
	)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	ctx := context.Background()
	entities, err := reopened.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	e1, e2 := entities[0], entities[1]
	assert.True(t, ir.Equal(e1.Components["Transform"], ir.Object{"position": ir.Vec3{1, 2, 3}}))
	require.NotNil(t, e1.Camera)
	assert.True(t, ir.Equal(e1.Camera.Projection["fov"], ir.Float(60.0)))
	assert.Equal(t, []string{"prop"}, e2.Tags)
	require.NotNil(t, e2.Parent)
	assert.Equal(t, ref("a", 1), *e2.Parent)

	layers, err := reopened.Layers(ctx)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.True(t, ir.Equal(layers[0].Properties["density"], ir.Float(0.25)))

	assets, err := reopened.Assets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "meshes/rock.glb", assets[0].Path)

	cam, err := reopened.ActiveCamera(ctx)
	require.NoError(t, err)
	require.NotNil(t, cam)
	assert.Equal(t, ref("a", 1), *cam)
}

// TestSQLite_ApplyIsAtomic tests a semantic failure writes nothing.
func TestSQLite_ApplyIsAtomic(t *testing.T) {
	s := openTestDB(t)
	mustApply(t, s, create("a", 1, nil))

	_, err := s.Apply(context.Background(), ir.NewTransactionID(), []ir.Patch{
		compSet("a", 1, "Health", ir.Object{"hp": ir.Int(1)}),
		destroy("a", 99), // no such entity
	})
	require.Error(t, err)
	assert.True(t, IsApplyError(err))

	entities, err := s.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Empty(t, entities[0].Components)
}

// TestSQLite_DestroyRemovesRows tests cascade deletion reaches the
// database, not just the mirror.
func TestSQLite_DestroyRemovesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	parent := ref("a", 1)
	mustApply(t, s,
		create("a", 1, nil),
		create("a", 2, map[string]ir.Object{"Health": {"hp": ir.Int(3)}}),
		ir.Patch{Source: "a", Kind: ir.HierarchyPatch{
			Entity: ref("a", 2),
			Op:     ir.HierarchyOp{Kind: ir.HierarchyAttach, Parent: &parent},
		}},
	)
	mustApply(t, s, destroy("a", 1))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	entities, err := reopened.Entities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

// TestSQLite_ArchetypePersists tests the archetype survives close and
// reopen alongside the rest of the entity row.
func TestSQLite_ArchetypePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	mustApply(t, s,
		ir.Patch{Source: "a", Kind: ir.EntityPatch{
			Entity: ref("a", 1),
			Op:     ir.EntityOp{Kind: ir.EntityCreate, Archetype: "Enemy"},
		}},
		ir.Patch{Source: "a", Kind: ir.EntityPatch{
			Entity: ref("a", 2),
			Op:     ir.EntityOp{Kind: ir.EntityCreate},
		}},
	)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	entities, err := reopened.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Enemy", entities[0].Archetype)
	assert.Empty(t, entities[1].Archetype)
}

// TestSQLite_FloatFidelity tests Int and Float survive the JSON column
// round-trip as distinct kinds.
func TestSQLite_FloatFidelity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	mustApply(t, s, create("a", 1, map[string]ir.Object{
		"Stats": {"count": ir.Int(3), "rate": ir.Float(3)},
	}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	entities, err := reopened.Entities(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)

	stats := entities[0].Components["Stats"]
	assert.IsType(t, ir.Int(0), stats["count"])
	assert.IsType(t, ir.Float(0), stats["rate"])
}
