package ir

import "fmt"

// Patch is a single declarative operation on world state.
//
// A patch is immutable once admitted: the bus stamps Timestamp from its
// logical clock at submission and nothing downstream mutates the record.
// Priority breaks write conflicts between namespaces (higher wins);
// Timestamp breaks priority ties (earlier wins).
type Patch struct {
	Source    NamespaceID `json:"source"`
	Kind      PatchKind   `json:"kind"`
	Priority  int32       `json:"priority"`
	Timestamp uint64      `json:"timestamp"`
}

// Targets returns every entity ref the patch touches.
func (p Patch) Targets() []EntityRef {
	return p.Kind.Targets()
}

// PayloadSize returns the accounting size of the patch payload in bytes.
func (p Patch) PayloadSize() int {
	return p.Kind.PayloadSize()
}

// PatchKind is a sealed interface over the six patch families.
// Only EntityPatch, ComponentPatch, LayerPatch, AssetPatch, HierarchyPatch,
// and CameraPatch implement it.
type PatchKind interface {
	patchKind() // Sealed - only these types implement it

	// Targets returns the entity refs the patch touches (may be empty for
	// layer and asset patches).
	Targets() []EntityRef

	// PayloadSize returns the accounting size of any Value payload carried.
	PayloadSize() int
}

// EntityOpKind enumerates entity-level operations.
type EntityOpKind string

const (
	EntityCreate    EntityOpKind = "create"
	EntityDestroy   EntityOpKind = "destroy"
	EntityEnable    EntityOpKind = "enable"
	EntityDisable   EntityOpKind = "disable"
	EntitySetParent EntityOpKind = "set_parent"
	EntityAddTag    EntityOpKind = "add_tag"
	EntityRemoveTag EntityOpKind = "remove_tag"
)

// EntityOp describes an entity-level operation. Archetype and Components
// are meaningful for create; Parent for set_parent; Tag for add/remove_tag.
type EntityOp struct {
	Kind       EntityOpKind      `json:"kind"`
	Archetype  string            `json:"archetype,omitempty"`
	Components map[string]Object `json:"components,omitempty"`
	Parent     *EntityRef        `json:"parent,omitempty"`
	Tag        string            `json:"tag,omitempty"`
}

// EntityPatch operates on an entity as a whole.
type EntityPatch struct {
	Entity EntityRef `json:"entity"`
	Op     EntityOp  `json:"op"`
}

func (EntityPatch) patchKind() {}

// Targets returns the target entity plus the parent for set_parent ops.
func (p EntityPatch) Targets() []EntityRef {
	if p.Op.Kind == EntitySetParent && p.Op.Parent != nil {
		return []EntityRef{p.Entity, *p.Op.Parent}
	}
	return []EntityRef{p.Entity}
}

// PayloadSize sums the initial component payloads for create ops.
func (p EntityPatch) PayloadSize() int {
	n := 0
	for _, obj := range p.Op.Components {
		n += ByteSize(obj)
	}
	return n
}

// ComponentOpKind enumerates component-level operations.
type ComponentOpKind string

const (
	ComponentSet    ComponentOpKind = "set"
	ComponentUpdate ComponentOpKind = "update"
	ComponentRemove ComponentOpKind = "remove"
)

// ComponentOp describes a component-level operation. Data is the full
// component value for set; Fields holds partial deltas for update.
type ComponentOp struct {
	Kind   ComponentOpKind `json:"kind"`
	Data   Object          `json:"data,omitempty"`
	Fields Object          `json:"fields,omitempty"`
}

// ComponentPatch writes one named component of one entity.
type ComponentPatch struct {
	Entity    EntityRef   `json:"entity"`
	Component string      `json:"component"`
	Op        ComponentOp `json:"op"`
}

func (ComponentPatch) patchKind() {}

func (p ComponentPatch) Targets() []EntityRef { return []EntityRef{p.Entity} }

func (p ComponentPatch) PayloadSize() int {
	return ByteSize(p.Op.Data) + ByteSize(p.Op.Fields)
}

// LayerOpKind enumerates layer operations.
type LayerOpKind string

const (
	LayerActivate    LayerOpKind = "activate"
	LayerDeactivate  LayerOpKind = "deactivate"
	LayerSetProperty LayerOpKind = "set_property"
	// LayerReset deactivates the layer and discards every property it
	// accumulated, returning it to its untouched state.
	LayerReset LayerOpKind = "reset"
)

// LayerOp describes a layer operation. Property/Value are meaningful for
// set_property.
type LayerOp struct {
	Kind     LayerOpKind `json:"kind"`
	Property string      `json:"property,omitempty"`
	Value    Value       `json:"value,omitempty"`
}

// LayerPatch toggles or configures a named world layer.
type LayerPatch struct {
	LayerID string  `json:"layer_id"`
	Op      LayerOp `json:"op"`
}

func (LayerPatch) patchKind() {}

func (p LayerPatch) Targets() []EntityRef { return nil }

func (p LayerPatch) PayloadSize() int {
	if p.Op.Value == nil {
		return 0
	}
	return ByteSize(p.Op.Value)
}

// AssetOpKind enumerates asset operations.
type AssetOpKind string

const (
	AssetLoad   AssetOpKind = "load"
	AssetUnload AssetOpKind = "unload"
	AssetUpdate AssetOpKind = "update"
)

// AssetOp describes an asset operation. Path/AssetType are meaningful for
// load; Data for update (hot-reload payloads).
type AssetOp struct {
	Kind      AssetOpKind `json:"kind"`
	Path      string      `json:"path,omitempty"`
	AssetType string      `json:"asset_type,omitempty"`
	Data      Object      `json:"data,omitempty"`
}

// AssetPatch loads, unloads, or hot-reloads an asset. Asset layers are
// ordinary namespace producers, not privileged callers.
type AssetPatch struct {
	AssetID string  `json:"asset_id"`
	Op      AssetOp `json:"op"`
}

func (AssetPatch) patchKind() {}

func (p AssetPatch) Targets() []EntityRef { return nil }

func (p AssetPatch) PayloadSize() int { return ByteSize(p.Op.Data) }

// HierarchyOpKind enumerates hierarchy operations.
type HierarchyOpKind string

const (
	HierarchyAttach  HierarchyOpKind = "attach"
	HierarchyDetach  HierarchyOpKind = "detach"
	HierarchyReorder HierarchyOpKind = "reorder"
)

// HierarchyOp describes a hierarchy operation. Parent is meaningful for
// attach; Index for reorder.
type HierarchyOp struct {
	Kind   HierarchyOpKind `json:"kind"`
	Parent *EntityRef      `json:"parent,omitempty"`
	Index  int             `json:"index,omitempty"`
}

// HierarchyPatch rewires an entity's position in the scene hierarchy.
type HierarchyPatch struct {
	Entity EntityRef   `json:"entity"`
	Op     HierarchyOp `json:"op"`
}

func (HierarchyPatch) patchKind() {}

func (p HierarchyPatch) Targets() []EntityRef {
	if p.Op.Kind == HierarchyAttach && p.Op.Parent != nil {
		return []EntityRef{p.Entity, *p.Op.Parent}
	}
	return []EntityRef{p.Entity}
}

func (p HierarchyPatch) PayloadSize() int { return 0 }

// CameraOpKind enumerates camera operations.
type CameraOpKind string

const (
	CameraMakeActive    CameraOpKind = "make_active"
	CameraSetProjection CameraOpKind = "set_projection"
	CameraSetTarget     CameraOpKind = "set_target"
)

// CameraOp describes a camera operation. Data holds projection parameters
// for set_projection; Target for set_target.
type CameraOp struct {
	Kind   CameraOpKind `json:"kind"`
	Data   Object       `json:"data,omitempty"`
	Target *EntityRef   `json:"target,omitempty"`
}

// CameraPatch operates on a camera entity.
type CameraPatch struct {
	Entity EntityRef `json:"entity"`
	Op     CameraOp  `json:"op"`
}

func (CameraPatch) patchKind() {}

func (p CameraPatch) Targets() []EntityRef {
	if p.Op.Kind == CameraSetTarget && p.Op.Target != nil {
		return []EntityRef{p.Entity, *p.Op.Target}
	}
	return []EntityRef{p.Entity}
}

func (p CameraPatch) PayloadSize() int { return ByteSize(p.Op.Data) }

// KindName returns the patch family name for logs, traces, and reports.
func KindName(k PatchKind) string {
	switch k.(type) {
	case EntityPatch:
		return "entity"
	case ComponentPatch:
		return "component"
	case LayerPatch:
		return "layer"
	case AssetPatch:
		return "asset"
	case HierarchyPatch:
		return "hierarchy"
	case CameraPatch:
		return "camera"
	default:
		return fmt.Sprintf("unknown(%T)", k)
	}
}
