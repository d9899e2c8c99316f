package snapshot

import (
	"fmt"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/store"
)

// Encode serializes a snapshot to canonical JSON (RFC 8785). Encoding is
// deterministic: identical snapshots produce identical bytes.
func Encode(s *Snapshot) ([]byte, error) {
	body, err := bodyObject(s)
	if err != nil {
		return nil, err
	}
	body["id"] = ir.String(s.ID)
	return ir.MarshalCanonical(body)
}

// Decode parses an encoded snapshot and verifies its content hash.
func Decode(data []byte) (*Snapshot, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("decode snapshot: not an object")
	}

	id, ok := obj["id"].(ir.String)
	if !ok {
		return nil, fmt.Errorf("decode snapshot: missing id")
	}

	s := &Snapshot{ID: string(id)}
	if err := decodeBody(obj, s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	encoded, err := encodeBody(s)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if want := ir.HashWithDomain(ir.DomainSnapshot, encoded); want != s.ID {
		return nil, fmt.Errorf("decode snapshot: content hash mismatch (claimed %s, computed %s)", s.ID, want)
	}
	return s, nil
}

// encodeBody serializes everything except the ID. The content hash is
// computed over these bytes.
func encodeBody(s *Snapshot) ([]byte, error) {
	body, err := bodyObject(s)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(body)
}

func bodyObject(s *Snapshot) (ir.Object, error) {
	entities := make(ir.Array, len(s.Entities))
	for i, e := range s.Entities {
		entities[i] = entityValue(e)
	}
	layers := make(ir.Array, len(s.Layers))
	for i, l := range s.Layers {
		layers[i] = ir.Object{
			"id":         ir.String(l.ID),
			"active":     ir.Bool(l.Active),
			"properties": l.Properties,
		}
	}
	assets := make(ir.Array, len(s.Assets))
	for i, a := range s.Assets {
		assets[i] = ir.Object{
			"id":         ir.String(a.ID),
			"path":       ir.String(a.Path),
			"asset_type": ir.String(a.AssetType),
			"data":       a.Data,
		}
	}

	body := ir.Object{
		"version":  ir.Int(s.Version),
		"clock":    ir.Int(int64(s.Clock)),
		"entities": entities,
		"layers":   layers,
		"assets":   assets,
	}
	if s.Camera != nil {
		body["camera"] = refValue(*s.Camera)
	}
	return body, nil
}

func entityValue(e store.EntityRecord) ir.Object {
	tags := make(ir.Array, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = ir.String(t)
	}
	components := ir.Object{}
	for name, obj := range e.Components {
		components[name] = obj
	}

	out := ir.Object{
		"ref":        refValue(e.Ref),
		"enabled":    ir.Bool(e.Enabled),
		"order":      ir.Int(int64(e.OrderIndex)),
		"tags":       tags,
		"components": components,
	}
	if e.Archetype != "" {
		out["archetype"] = ir.String(e.Archetype)
	}
	if e.Parent != nil {
		out["parent"] = refValue(*e.Parent)
	}
	if e.Camera != nil {
		cam := ir.Object{}
		if len(e.Camera.Projection) > 0 {
			cam["projection"] = e.Camera.Projection
		}
		if e.Camera.Target != nil {
			cam["target"] = refValue(*e.Camera.Target)
		}
		out["camera"] = cam
	}
	return out
}

func refValue(r ir.EntityRef) ir.Object {
	return ir.Object{
		"namespace": ir.String(r.Namespace),
		"local_id":  ir.Int(int64(r.LocalID)),
	}
}

func decodeBody(obj ir.Object, s *Snapshot) error {
	version, ok := obj["version"].(ir.Int)
	if !ok {
		return fmt.Errorf("missing version")
	}
	s.Version = int(version)

	clock, ok := obj["clock"].(ir.Int)
	if !ok {
		return fmt.Errorf("missing clock")
	}
	s.Clock = uint64(clock)

	entities, ok := obj["entities"].(ir.Array)
	if !ok {
		return fmt.Errorf("missing entities")
	}
	for i, v := range entities {
		rec, err := decodeEntity(v)
		if err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
		s.Entities = append(s.Entities, rec)
	}

	layers, ok := obj["layers"].(ir.Array)
	if !ok {
		return fmt.Errorf("missing layers")
	}
	for i, v := range layers {
		l, ok := v.(ir.Object)
		if !ok {
			return fmt.Errorf("layer %d: not an object", i)
		}
		id, _ := l["id"].(ir.String)
		active, _ := l["active"].(ir.Bool)
		props, _ := l["properties"].(ir.Object)
		s.Layers = append(s.Layers, store.LayerRecord{
			ID: string(id), Active: bool(active), Properties: props,
		})
	}

	assets, ok := obj["assets"].(ir.Array)
	if !ok {
		return fmt.Errorf("missing assets")
	}
	for i, v := range assets {
		a, ok := v.(ir.Object)
		if !ok {
			return fmt.Errorf("asset %d: not an object", i)
		}
		id, _ := a["id"].(ir.String)
		path, _ := a["path"].(ir.String)
		assetType, _ := a["asset_type"].(ir.String)
		data, _ := a["data"].(ir.Object)
		s.Assets = append(s.Assets, store.AssetRecord{
			ID: string(id), Path: string(path), AssetType: string(assetType), Data: data,
		})
	}

	if cam, ok := obj["camera"]; ok {
		ref, err := decodeRef(cam)
		if err != nil {
			return fmt.Errorf("camera: %w", err)
		}
		s.Camera = &ref
	}
	return nil
}

func decodeEntity(v ir.Value) (store.EntityRecord, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return store.EntityRecord{}, fmt.Errorf("not an object")
	}

	ref, err := decodeRef(obj["ref"])
	if err != nil {
		return store.EntityRecord{}, fmt.Errorf("ref: %w", err)
	}

	rec := store.EntityRecord{Ref: ref, Components: map[string]ir.Object{}}
	if enabled, ok := obj["enabled"].(ir.Bool); ok {
		rec.Enabled = bool(enabled)
	}
	if archetype, ok := obj["archetype"].(ir.String); ok {
		rec.Archetype = string(archetype)
	}
	if order, ok := obj["order"].(ir.Int); ok {
		rec.OrderIndex = int(order)
	}
	if tags, ok := obj["tags"].(ir.Array); ok {
		for _, t := range tags {
			if s, ok := t.(ir.String); ok {
				rec.Tags = append(rec.Tags, string(s))
			}
		}
	}
	if components, ok := obj["components"].(ir.Object); ok {
		for name, data := range components {
			comp, ok := data.(ir.Object)
			if !ok {
				return store.EntityRecord{}, fmt.Errorf("component %q: not an object", name)
			}
			rec.Components[name] = comp
		}
	}
	if parent, ok := obj["parent"]; ok {
		ref, err := decodeRef(parent)
		if err != nil {
			return store.EntityRecord{}, fmt.Errorf("parent: %w", err)
		}
		rec.Parent = &ref
	}
	if cam, ok := obj["camera"].(ir.Object); ok {
		rec.Camera = &store.CameraRecord{Projection: ir.Object{}}
		if proj, ok := cam["projection"].(ir.Object); ok {
			rec.Camera.Projection = proj
		}
		if target, ok := cam["target"]; ok {
			ref, err := decodeRef(target)
			if err != nil {
				return store.EntityRecord{}, fmt.Errorf("camera target: %w", err)
			}
			rec.Camera.Target = &ref
		}
	}
	return rec, nil
}

func decodeRef(v ir.Value) (ir.EntityRef, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return ir.EntityRef{}, fmt.Errorf("not an object")
	}
	ns, ok := obj["namespace"].(ir.String)
	if !ok {
		return ir.EntityRef{}, fmt.Errorf("missing namespace")
	}
	id, ok := obj["local_id"].(ir.Int)
	if !ok {
		return ir.EntityRef{}, fmt.Errorf("missing local_id")
	}
	return ir.EntityRef{Namespace: ir.NamespaceID(ns), LocalID: uint64(id)}, nil
}
