package store

import (
	"fmt"
	"sort"

	"github.com/tidemark/strata/internal/ir"
)

// world is the mutable state both backends operate on. It is not
// goroutine-safe; the owning store serializes access.
type world struct {
	entities map[ir.EntityRef]*entityState
	layers   map[string]*layerState
	assets   map[string]*assetState
	camera   *ir.EntityRef

	// Dirty sets track what an apply touched so durable backends can
	// rewrite only affected rows. A dirty entity that no longer exists
	// was destroyed.
	dirtyEntities map[ir.EntityRef]bool
	dirtyLayers   map[string]bool
	dirtyAssets   map[string]bool
	dirtyCamera   bool
}

type entityState struct {
	enabled    bool
	archetype  string
	parent     *ir.EntityRef
	orderIndex int
	tags       map[string]bool
	components map[string]ir.Object
	camera     *cameraState
}

type cameraState struct {
	projection ir.Object
	target     *ir.EntityRef
}

type layerState struct {
	active     bool
	properties ir.Object
}

type assetState struct {
	path      string
	assetType string
	data      ir.Object
}

func newWorld() *world {
	return &world{
		entities: make(map[ir.EntityRef]*entityState),
		layers:   make(map[string]*layerState),
		assets:   make(map[string]*assetState),
	}
}

// clone deep-copies the world so a staged apply cannot leak partial
// effects into the live state.
func (w *world) clone() *world {
	c := newWorld()
	for ref, e := range w.entities {
		c.entities[ref] = e.clone()
	}
	for id, l := range w.layers {
		c.layers[id] = &layerState{active: l.active, properties: cloneObject(l.properties)}
	}
	for id, a := range w.assets {
		c.assets[id] = &assetState{path: a.path, assetType: a.assetType, data: cloneObject(a.data)}
	}
	c.camera = copyRef(w.camera)
	return c
}

func (e *entityState) clone() *entityState {
	c := &entityState{
		enabled:    e.enabled,
		archetype:  e.archetype,
		parent:     copyRef(e.parent),
		orderIndex: e.orderIndex,
		tags:       make(map[string]bool, len(e.tags)),
		components: make(map[string]ir.Object, len(e.components)),
	}
	for t := range e.tags {
		c.tags[t] = true
	}
	for name, obj := range e.components {
		c.components[name] = cloneObject(obj)
	}
	if e.camera != nil {
		c.camera = &cameraState{
			projection: cloneObject(e.camera.projection),
			target:     copyRef(e.camera.target),
		}
	}
	return c
}

func (w *world) resetDirty() {
	w.dirtyEntities = make(map[ir.EntityRef]bool)
	w.dirtyLayers = make(map[string]bool)
	w.dirtyAssets = make(map[string]bool)
	w.dirtyCamera = false
}

// apply executes one patch against the world. The index is only used to
// locate the patch in an ApplyError.
func (w *world) apply(i int, p ir.Patch) error {
	switch kind := p.Kind.(type) {
	case ir.EntityPatch:
		return w.applyEntity(i, kind)
	case ir.ComponentPatch:
		return w.applyComponent(i, kind)
	case ir.LayerPatch:
		return w.applyLayer(i, kind)
	case ir.AssetPatch:
		return w.applyAsset(i, kind)
	case ir.HierarchyPatch:
		return w.applyHierarchy(i, kind)
	case ir.CameraPatch:
		return w.applyCamera(i, kind)
	default:
		return &ApplyError{Index: i, Op: ir.KindName(kind), Message: "unknown patch kind"}
	}
}

func (w *world) applyEntity(i int, p ir.EntityPatch) error {
	op := "entity/" + string(p.Op.Kind)
	switch p.Op.Kind {
	case ir.EntityCreate:
		if _, ok := w.entities[p.Entity]; ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s already exists", p.Entity)}
		}
		e := &entityState{
			enabled:    true,
			archetype:  p.Op.Archetype,
			tags:       make(map[string]bool),
			components: make(map[string]ir.Object, len(p.Op.Components)),
		}
		for name, obj := range p.Op.Components {
			e.components[name] = cloneObject(obj)
		}
		w.entities[p.Entity] = e
		w.dirtyEntities[p.Entity] = true
		return nil

	case ir.EntityDestroy:
		if _, ok := w.entities[p.Entity]; !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
		}
		// Destroy cascades down the hierarchy: a child outliving its
		// parent would dangle.
		for _, ref := range w.subtree(p.Entity) {
			delete(w.entities, ref)
			w.dirtyEntities[ref] = true
			if w.camera != nil && *w.camera == ref {
				w.camera = nil
				w.dirtyCamera = true
			}
		}
		return nil

	case ir.EntityEnable, ir.EntityDisable:
		e, ok := w.entities[p.Entity]
		if !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
		}
		e.enabled = p.Op.Kind == ir.EntityEnable
		w.dirtyEntities[p.Entity] = true
		return nil

	case ir.EntitySetParent:
		return w.reparent(i, op, p.Entity, p.Op.Parent)

	case ir.EntityAddTag, ir.EntityRemoveTag:
		e, ok := w.entities[p.Entity]
		if !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
		}
		if p.Op.Kind == ir.EntityAddTag {
			e.tags[p.Op.Tag] = true
		} else {
			delete(e.tags, p.Op.Tag)
		}
		w.dirtyEntities[p.Entity] = true
		return nil

	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown entity operation"}
	}
}

func (w *world) applyComponent(i int, p ir.ComponentPatch) error {
	op := "component/" + string(p.Op.Kind)
	e, ok := w.entities[p.Entity]
	if !ok {
		return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
	}

	switch p.Op.Kind {
	case ir.ComponentSet:
		e.components[p.Component] = cloneObject(p.Op.Data)
	case ir.ComponentUpdate:
		existing, ok := e.components[p.Component]
		if !ok {
			return &ApplyError{Index: i, Op: op,
				Message: fmt.Sprintf("entity %s has no component %q to update", p.Entity, p.Component)}
		}
		for k, v := range p.Op.Fields {
			existing[k] = ir.Clone(v)
		}
	case ir.ComponentRemove:
		// Removing an absent component is a no-op.
		delete(e.components, p.Component)
	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown component operation"}
	}
	w.dirtyEntities[p.Entity] = true
	return nil
}

func (w *world) applyLayer(i int, p ir.LayerPatch) error {
	op := "layer/" + string(p.Op.Kind)
	l := w.layers[p.LayerID]
	if l == nil {
		l = &layerState{properties: ir.Object{}}
		w.layers[p.LayerID] = l
	}

	switch p.Op.Kind {
	case ir.LayerActivate:
		l.active = true
	case ir.LayerDeactivate:
		l.active = false
	case ir.LayerSetProperty:
		l.properties[p.Op.Property] = ir.Clone(p.Op.Value)
	case ir.LayerReset:
		l.active = false
		l.properties = ir.Object{}
	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown layer operation"}
	}
	w.dirtyLayers[p.LayerID] = true
	return nil
}

func (w *world) applyAsset(i int, p ir.AssetPatch) error {
	op := "asset/" + string(p.Op.Kind)
	switch p.Op.Kind {
	case ir.AssetLoad:
		// Loading over an existing asset replaces it (hot reload from
		// disk goes through load as well as update).
		w.assets[p.AssetID] = &assetState{
			path:      p.Op.Path,
			assetType: p.Op.AssetType,
			data:      cloneObject(p.Op.Data),
		}
	case ir.AssetUnload:
		if _, ok := w.assets[p.AssetID]; !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("asset %q is not loaded", p.AssetID)}
		}
		delete(w.assets, p.AssetID)
	case ir.AssetUpdate:
		a, ok := w.assets[p.AssetID]
		if !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("asset %q is not loaded", p.AssetID)}
		}
		for k, v := range p.Op.Data {
			a.data[k] = ir.Clone(v)
		}
	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown asset operation"}
	}
	w.dirtyAssets[p.AssetID] = true
	return nil
}

func (w *world) applyHierarchy(i int, p ir.HierarchyPatch) error {
	op := "hierarchy/" + string(p.Op.Kind)
	switch p.Op.Kind {
	case ir.HierarchyAttach:
		return w.reparent(i, op, p.Entity, p.Op.Parent)
	case ir.HierarchyDetach:
		e, ok := w.entities[p.Entity]
		if !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
		}
		e.parent = nil
		w.dirtyEntities[p.Entity] = true
		return nil
	case ir.HierarchyReorder:
		e, ok := w.entities[p.Entity]
		if !ok {
			return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
		}
		e.orderIndex = p.Op.Index
		w.dirtyEntities[p.Entity] = true
		return nil
	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown hierarchy operation"}
	}
}

func (w *world) applyCamera(i int, p ir.CameraPatch) error {
	op := "camera/" + string(p.Op.Kind)
	e, ok := w.entities[p.Entity]
	if !ok {
		return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", p.Entity)}
	}

	switch p.Op.Kind {
	case ir.CameraMakeActive:
		ref := p.Entity
		w.camera = &ref
		w.dirtyCamera = true
	case ir.CameraSetProjection:
		if e.camera == nil {
			e.camera = &cameraState{}
		}
		e.camera.projection = cloneObject(p.Op.Data)
		w.dirtyEntities[p.Entity] = true
	case ir.CameraSetTarget:
		if p.Op.Target != nil {
			if _, ok := w.entities[*p.Op.Target]; !ok {
				return &ApplyError{Index: i, Op: op,
					Message: fmt.Sprintf("camera target %s does not exist", *p.Op.Target)}
			}
		}
		if e.camera == nil {
			e.camera = &cameraState{}
		}
		e.camera.target = copyRef(p.Op.Target)
		w.dirtyEntities[p.Entity] = true
	default:
		return &ApplyError{Index: i, Op: op, Message: "unknown camera operation"}
	}
	return nil
}

// reparent sets an entity's parent after existence and cycle checks.
func (w *world) reparent(i int, op string, child ir.EntityRef, parent *ir.EntityRef) error {
	e, ok := w.entities[child]
	if !ok {
		return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("entity %s does not exist", child)}
	}
	if parent == nil {
		e.parent = nil
		w.dirtyEntities[child] = true
		return nil
	}
	if _, ok := w.entities[*parent]; !ok {
		return &ApplyError{Index: i, Op: op, Message: fmt.Sprintf("parent %s does not exist", *parent)}
	}
	// Walk the ancestor chain of the proposed parent; hitting the child
	// means the edge would close a cycle.
	for cur := parent; cur != nil; {
		if *cur == child {
			return &ApplyError{Index: i, Op: op,
				Message: fmt.Sprintf("attaching %s under %s would create a cycle", child, *parent)}
		}
		cur = w.entities[*cur].parent
	}
	e.parent = copyRef(parent)
	w.dirtyEntities[child] = true
	return nil
}

// subtree returns ref plus every descendant, breadth-first.
func (w *world) subtree(ref ir.EntityRef) []ir.EntityRef {
	out := []ir.EntityRef{ref}
	for cursor := 0; cursor < len(out); cursor++ {
		for candidate, e := range w.entities {
			if e.parent != nil && *e.parent == out[cursor] {
				out = append(out, candidate)
			}
		}
	}
	return out
}

// entityRecords converts the world to sorted read records.
func (w *world) entityRecords() []EntityRecord {
	out := make([]EntityRecord, 0, len(w.entities))
	for ref, e := range w.entities {
		rec := EntityRecord{
			Ref:        ref,
			Enabled:    e.enabled,
			Archetype:  e.archetype,
			Parent:     copyRef(e.parent),
			OrderIndex: e.orderIndex,
			Components: make(map[string]ir.Object, len(e.components)),
		}
		for t := range e.tags {
			rec.Tags = append(rec.Tags, t)
		}
		sort.Strings(rec.Tags)
		for name, obj := range e.components {
			rec.Components[name] = cloneObject(obj)
		}
		if e.camera != nil {
			rec.Camera = &CameraRecord{
				Projection: cloneObject(e.camera.projection),
				Target:     copyRef(e.camera.target),
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Namespace != out[j].Ref.Namespace {
			return out[i].Ref.Namespace < out[j].Ref.Namespace
		}
		return out[i].Ref.LocalID < out[j].Ref.LocalID
	})
	return out
}

func (w *world) layerRecords() []LayerRecord {
	out := make([]LayerRecord, 0, len(w.layers))
	for id, l := range w.layers {
		out = append(out, LayerRecord{ID: id, Active: l.active, Properties: cloneObject(l.properties)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *world) assetRecords() []AssetRecord {
	out := make([]AssetRecord, 0, len(w.assets))
	for id, a := range w.assets {
		out = append(out, AssetRecord{ID: id, Path: a.path, AssetType: a.assetType, Data: cloneObject(a.data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneObject(obj ir.Object) ir.Object {
	if obj == nil {
		return ir.Object{}
	}
	return ir.Clone(obj).(ir.Object)
}

func copyRef(ref *ir.EntityRef) *ir.EntityRef {
	if ref == nil {
		return nil
	}
	r := *ref
	return &r
}
