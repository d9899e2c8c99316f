package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(ns string, id uint64) EntityRef {
	return EntityRef{Namespace: NamespaceID(ns), LocalID: id}
}

// TestEntityRef_Equality tests that refs are equal iff both fields match.
func TestEntityRef_Equality(t *testing.T) {
	assert.Equal(t, ref("a", 1), ref("a", 1))
	assert.NotEqual(t, ref("a", 1), ref("b", 1))
	assert.NotEqual(t, ref("a", 1), ref("a", 2))
}

// TestPatch_Targets tests target extraction across patch families.
func TestPatch_Targets(t *testing.T) {
	parent := ref("a", 9)

	tests := []struct {
		name string
		kind PatchKind
		want []EntityRef
	}{
		{
			"entity_create",
			EntityPatch{Entity: ref("a", 1), Op: EntityOp{Kind: EntityCreate}},
			[]EntityRef{ref("a", 1)},
		},
		{
			"entity_set_parent_includes_parent",
			EntityPatch{Entity: ref("a", 1), Op: EntityOp{Kind: EntitySetParent, Parent: &parent}},
			[]EntityRef{ref("a", 1), parent},
		},
		{
			"component_set",
			ComponentPatch{Entity: ref("a", 2), Component: "Transform", Op: ComponentOp{Kind: ComponentSet}},
			[]EntityRef{ref("a", 2)},
		},
		{
			"layer_has_no_targets",
			LayerPatch{LayerID: "fx", Op: LayerOp{Kind: LayerActivate}},
			nil,
		},
		{
			"asset_has_no_targets",
			AssetPatch{AssetID: "tex/rock", Op: AssetOp{Kind: AssetUnload}},
			nil,
		},
		{
			"hierarchy_attach_includes_parent",
			HierarchyPatch{Entity: ref("a", 3), Op: HierarchyOp{Kind: HierarchyAttach, Parent: &parent}},
			[]EntityRef{ref("a", 3), parent},
		},
		{
			"camera_set_target_includes_target",
			CameraPatch{Entity: ref("a", 4), Op: CameraOp{Kind: CameraSetTarget, Target: &parent}},
			[]EntityRef{ref("a", 4), parent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Patch{Source: "a", Kind: tt.kind}
			assert.Equal(t, tt.want, p.Targets())
		})
	}
}

// TestPatch_PayloadSize tests payload accounting per family.
func TestPatch_PayloadSize(t *testing.T) {
	data := Object{"hp": Int(10)}

	set := Patch{Kind: ComponentPatch{Entity: ref("a", 1), Component: "Health", Op: ComponentOp{Kind: ComponentSet, Data: data}}}
	assert.Equal(t, ByteSize(data), set.PayloadSize())

	create := Patch{Kind: EntityPatch{Entity: ref("a", 1), Op: EntityOp{
		Kind:       EntityCreate,
		Components: map[string]Object{"Health": data},
	}}}
	assert.Equal(t, ByteSize(data), create.PayloadSize())

	detach := Patch{Kind: HierarchyPatch{Entity: ref("a", 1), Op: HierarchyOp{Kind: HierarchyDetach}}}
	assert.Equal(t, 0, detach.PayloadSize())
}

// TestKindName covers the family names used in reports and traces.
func TestKindName(t *testing.T) {
	assert.Equal(t, "entity", KindName(EntityPatch{}))
	assert.Equal(t, "component", KindName(ComponentPatch{}))
	assert.Equal(t, "layer", KindName(LayerPatch{}))
	assert.Equal(t, "asset", KindName(AssetPatch{}))
	assert.Equal(t, "hierarchy", KindName(HierarchyPatch{}))
	assert.Equal(t, "camera", KindName(CameraPatch{}))
}

// TestPatchDigest_Stability tests the digest is deterministic and sensitive.
func TestPatchDigest_Stability(t *testing.T) {
	p := Patch{
		Source:    "ns-a",
		Priority:  5,
		Timestamp: 17,
		Kind: ComponentPatch{
			Entity:    ref("ns-a", 1),
			Component: "Transform",
			Op:        ComponentOp{Kind: ComponentSet, Data: Object{"position": Vec3{1, 2, 3}}},
		},
	}

	d1, err := PatchDigest(p)
	require.NoError(t, err)
	d2, err := PatchDigest(p)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	p.Priority = 6
	d3, err := PatchDigest(p)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

// TestNewNamespaceID tests IDs are unique and well-formed.
func TestNewNamespaceID(t *testing.T) {
	a := NewNamespaceID()
	b := NewNamespaceID()
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 36)
}
