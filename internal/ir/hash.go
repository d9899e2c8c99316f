package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration.
const (
	DomainPatch    = "strata/patch/v1"
	DomainSnapshot = "strata/snapshot/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PatchDigest computes a content-addressed digest for a patch. The digest
// is stable across restarts given the same source, kind, priority, and
// timestamp; it is used in golden traces and duplicate diagnostics, never
// for conflict resolution.
func PatchDigest(p Patch) (string, error) {
	obj, err := CanonicalPatch(p)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PatchDigest: failed to marshal: %w", err)
	}
	return HashWithDomain(DomainPatch, canonical), nil
}

// CanonicalPatch renders a patch as an Object suitable for canonical
// marshaling. Golden traces and digests share this form so the two never
// drift apart.
func CanonicalPatch(p Patch) (Object, error) {
	kind, err := canonicalKind(p.Kind)
	if err != nil {
		return nil, err
	}
	return Object{
		"source":    String(p.Source),
		"kind":      kind,
		"priority":  Int(p.Priority),
		"timestamp": Int(p.Timestamp),
	}, nil
}

func canonicalKind(k PatchKind) (Object, error) {
	switch kind := k.(type) {
	case EntityPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Archetype != "" {
			op["archetype"] = String(kind.Op.Archetype)
		}
		if len(kind.Op.Components) > 0 {
			comps := Object{}
			for name, data := range kind.Op.Components {
				comps[name] = data
			}
			op["components"] = comps
		}
		if kind.Op.Parent != nil {
			op["parent"] = canonicalRef(*kind.Op.Parent)
		}
		if kind.Op.Tag != "" {
			op["tag"] = String(kind.Op.Tag)
		}
		return Object{"entity": canonicalRef(kind.Entity), "op": op, "family": String("entity")}, nil
	case ComponentPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Data != nil {
			op["data"] = kind.Op.Data
		}
		if kind.Op.Fields != nil {
			op["fields"] = kind.Op.Fields
		}
		return Object{
			"entity":    canonicalRef(kind.Entity),
			"component": String(kind.Component),
			"op":        op,
			"family":    String("component"),
		}, nil
	case LayerPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Property != "" {
			op["property"] = String(kind.Op.Property)
		}
		if kind.Op.Value != nil {
			op["value"] = kind.Op.Value
		}
		return Object{"layer_id": String(kind.LayerID), "op": op, "family": String("layer")}, nil
	case AssetPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Path != "" {
			op["path"] = String(kind.Op.Path)
		}
		if kind.Op.AssetType != "" {
			op["asset_type"] = String(kind.Op.AssetType)
		}
		if kind.Op.Data != nil {
			op["data"] = kind.Op.Data
		}
		return Object{"asset_id": String(kind.AssetID), "op": op, "family": String("asset")}, nil
	case HierarchyPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Parent != nil {
			op["parent"] = canonicalRef(*kind.Op.Parent)
		}
		if kind.Op.Kind == HierarchyReorder {
			op["index"] = Int(kind.Op.Index)
		}
		return Object{"entity": canonicalRef(kind.Entity), "op": op, "family": String("hierarchy")}, nil
	case CameraPatch:
		op := Object{"kind": String(kind.Op.Kind)}
		if kind.Op.Data != nil {
			op["data"] = kind.Op.Data
		}
		if kind.Op.Target != nil {
			op["target"] = canonicalRef(*kind.Op.Target)
		}
		return Object{"entity": canonicalRef(kind.Entity), "op": op, "family": String("camera")}, nil
	default:
		return nil, fmt.Errorf("unknown patch kind: %T", k)
	}
}

func canonicalRef(r EntityRef) Object {
	return Object{
		"namespace": String(r.Namespace),
		"local_id":  Int(int64(r.LocalID)),
	}
}
