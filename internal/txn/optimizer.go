package txn

import (
	"fmt"
	"strings"

	"github.com/tidemark/strata/internal/ir"
)

// writeKey identifies the state cell a patch writes: the entity for
// entity-level ops, (entity, component) for component ops, and the
// layer/asset id for those families.
func writeKey(p ir.Patch) string {
	switch kind := p.Kind.(type) {
	case ir.EntityPatch:
		return "entity|" + kind.Entity.String()
	case ir.ComponentPatch:
		return "component|" + kind.Entity.String() + "|" + kind.Component
	case ir.LayerPatch:
		return "layer|" + kind.LayerID
	case ir.AssetPatch:
		return "asset|" + kind.AssetID
	case ir.HierarchyPatch:
		return "hierarchy|" + kind.Entity.String()
	case ir.CameraPatch:
		return "camera|" + kind.Entity.String()
	default:
		return fmt.Sprintf("unknown|%T", kind)
	}
}

// dependsOn returns the entity whose existence the patch presupposes, if
// any. A create presupposes nothing; everything else that names an entity
// is meaningless if that entity never materializes.
func dependsOn(p ir.Patch) (ir.EntityRef, bool) {
	switch kind := p.Kind.(type) {
	case ir.EntityPatch:
		if kind.Op.Kind == ir.EntityCreate {
			return ir.EntityRef{}, false
		}
		return kind.Entity, true
	case ir.ComponentPatch:
		return kind.Entity, true
	case ir.HierarchyPatch:
		return kind.Entity, true
	case ir.CameraPatch:
		return kind.Entity, true
	default:
		return ir.EntityRef{}, false
	}
}

// OptimizeResult is the optimizer's output: the surviving sequence in its
// original relative order, outcomes for every removed patch, and stats.
type OptimizeResult struct {
	Patches []ir.Patch
	Dropped []Outcome
	Stats   BatchStats
}

// Optimize collapses redundant and self-cancelling patches within one
// uncommitted batch. It is a pure local rewrite: order among different
// keys is preserved, and only patches from the same source namespace are
// ever collapsed into each other - cross-namespace interaction is the
// conflict detector's business, and collapsing across namespaces would
// hide conflicts from it.
//
// Rewrites, in arrival order:
//   - set followed by set on the same key with nothing reading the first
//     in between: only the later survives (an intervening update observes
//     the first set, so both sets must stand)
//   - create(e) followed by destroy(e): both drop, along with every patch
//     inside that window that presupposes e - the entity never existed
//   - consecutive updates on the same key: field maps merge in order into
//     the last update (later fields override earlier ones)
func Optimize(patches []ir.Patch) OptimizeResult {
	n := len(patches)
	status := make([]Status, n) // "" = surviving
	rewritten := make(map[int]ir.Patch)
	stats := BatchStats{In: n}

	// Create/destroy cancellation. openCreate tracks, per entity, the
	// index of a not-yet-cancelled create from this batch.
	openCreate := make(map[ir.EntityRef]int)
	type window struct {
		entity     ir.EntityRef
		start, end int
	}
	var dead []window
	for i, p := range patches {
		ep, ok := p.Kind.(ir.EntityPatch)
		if !ok {
			continue
		}
		switch ep.Op.Kind {
		case ir.EntityCreate:
			openCreate[ep.Entity] = i
		case ir.EntityDestroy:
			ci, open := openCreate[ep.Entity]
			if open && patches[ci].Source == p.Source {
				status[ci] = StatusCollapsed
				status[i] = StatusCollapsed
				stats.Collapsed += 2
				dead = append(dead, window{ep.Entity, ci, i})
				delete(openCreate, ep.Entity)
			}
		}
	}

	// Everything inside a cancelled window that presupposes the dead
	// entity is meaningless: it can never be observed.
	for _, w := range dead {
		for i := w.start + 1; i < w.end; i++ {
			if status[i] != "" {
				continue
			}
			if target, ok := dependsOn(patches[i]); ok && target == w.entity {
				status[i] = StatusDroppedDependent
				stats.Collapsed++
			}
		}
	}

	// Set supersede and update merging, per (key, source).
	type chain struct{ indices []int }
	lastSet := make(map[string]int)
	updates := make(map[string]*chain)

	finalizeKey := func(key string, src ir.NamespaceID) {
		ck := key + "|" + string(src)
		c := updates[ck]
		if c == nil {
			return
		}
		delete(updates, ck)
		if len(c.indices) < 2 {
			return
		}
		merged := ir.Object{}
		for _, idx := range c.indices {
			cp := patches[idx].Kind.(ir.ComponentPatch)
			for k, v := range cp.Op.Fields {
				merged[k] = v
			}
		}
		survivor := c.indices[len(c.indices)-1]
		for _, idx := range c.indices[:len(c.indices)-1] {
			status[idx] = StatusCollapsed
			stats.Merged++
		}
		p := patches[survivor]
		cp := p.Kind.(ir.ComponentPatch)
		cp.Op.Fields = merged
		p.Kind = cp
		rewritten[survivor] = p
	}

	for i, p := range patches {
		if status[i] != "" {
			continue
		}
		key := writeKey(p)

		cp, isComponent := p.Kind.(ir.ComponentPatch)
		if isComponent && cp.Op.Kind == ir.ComponentUpdate {
			// An update reads the value the prior set established, so that
			// set is observed and can no longer be superseded by a later
			// one - collapsing it would leave the update targeting a
			// component that was never written.
			for sk := range lastSet {
				if strings.HasPrefix(sk, key+"|") {
					delete(lastSet, sk)
				}
			}
			ck := key + "|" + string(p.Source)
			if updates[ck] == nil {
				updates[ck] = &chain{}
			}
			updates[ck].indices = append(updates[ck].indices, i)
			continue
		}

		// Any non-update write to the key breaks every update chain on it:
		// merging across an intervening write would reorder effects.
		for ck, c := range updates {
			if strings.HasPrefix(ck, key+"|") {
				src := patches[c.indices[0]].Source
				finalizeKey(key, src)
			}
		}

		if isComponent && cp.Op.Kind == ir.ComponentSet {
			sk := key + "|" + string(p.Source)
			if prev, ok := lastSet[sk]; ok && status[prev] == "" {
				status[prev] = StatusCollapsed
				stats.Collapsed++
			}
			lastSet[sk] = i
		}
	}
	for _, c := range updates {
		if len(c.indices) > 0 {
			src := patches[c.indices[0]].Source
			finalizeKey(writeKey(patches[c.indices[0]]), src)
		}
	}

	result := OptimizeResult{Stats: stats}
	for i, p := range patches {
		if status[i] != "" {
			result.Dropped = append(result.Dropped, Outcome{Patch: p, Status: status[i]})
			continue
		}
		if rw, ok := rewritten[i]; ok {
			p = rw
		}
		result.Patches = append(result.Patches, p)
	}
	result.Stats.Out = len(result.Patches)
	return result
}
