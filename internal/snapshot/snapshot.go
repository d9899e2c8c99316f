// Package snapshot captures and restores whole-world state.
//
// Capture runs between apply cycles (under the engine's cycle gate) so a
// snapshot never observes a half-applied transaction. Restore rebuilds
// the captured world through the ordinary patch pipeline: clearing and
// reconstruction are themselves transactions, applied atomically and
// validated like any producer's patches.
package snapshot

import (
	"context"
	"fmt"
	"math"

	"github.com/tidemark/strata/internal/bus"
	"github.com/tidemark/strata/internal/engine"
	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/store"
	"github.com/tidemark/strata/internal/txn"
)

// FormatVersion is bumped on incompatible snapshot encoding changes.
const FormatVersion = 1

// Snapshot is a complete, consistent image of one world.
//
// ID is a domain-separated content hash of the canonical encoding, so
// two captures of identical state share an ID regardless of when or
// where they were taken.
type Snapshot struct {
	ID       string
	Version  int
	Clock    uint64 // Logical clock position at capture
	Entities []store.EntityRecord
	Layers   []store.LayerRecord
	Assets   []store.AssetRecord
	Camera   *ir.EntityRef
}

// Manager captures and restores snapshots for one engine and its store.
type Manager struct {
	engine *engine.Engine
	reader store.Reader
}

// NewManager creates a snapshot manager. The reader must be the same
// store the engine applies to.
func NewManager(e *engine.Engine, r store.Reader) *Manager {
	return &Manager{engine: e, reader: r}
}

// Capture takes a consistent snapshot of the world. It holds the cycle
// gate for the duration of the reads, so no tick interleaves.
func (m *Manager) Capture(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: FormatVersion}

	err := m.engine.Pause(func() error {
		var err error
		if snap.Entities, err = m.reader.Entities(ctx); err != nil {
			return err
		}
		if snap.Layers, err = m.reader.Layers(ctx); err != nil {
			return err
		}
		if snap.Assets, err = m.reader.Assets(ctx); err != nil {
			return err
		}
		if snap.Camera, err = m.reader.ActiveCamera(ctx); err != nil {
			return err
		}
		snap.Clock = m.engine.Bus().Clock().Current()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}

	encoded, err := encodeBody(snap)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	snap.ID = ir.HashWithDomain(ir.DomainSnapshot, encoded)
	return snap, nil
}

// Restore replaces the current world with the snapshot's.
//
// The restore runs as two transactions through the normal pipeline while
// holding the cycle gate: one clearing the live world, one rebuilding
// the captured one. Restore patches carry maximum priority, so anything
// a producer slipped onto the bus mid-restore loses every conflict
// against them.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if snap.Version != FormatVersion {
		return fmt.Errorf("restore snapshot: unsupported format version %d", snap.Version)
	}

	return m.engine.Pause(func() error {
		b := m.engine.Bus()
		h := b.Register(bus.NamespacePermissions{CrossWrite: true}, bus.Unlimited)
		defer b.Unregister(h)

		if err := m.submitClear(ctx, h); err != nil {
			return fmt.Errorf("restore snapshot %s: clear: %w", snap.ID, err)
		}
		if err := m.runCycle(ctx, "clear"); err != nil {
			return fmt.Errorf("restore snapshot %s: clear: %w", snap.ID, err)
		}

		if err := submitRebuild(h, snap); err != nil {
			return fmt.Errorf("restore snapshot %s: rebuild: %w", snap.ID, err)
		}
		if err := m.runCycle(ctx, "rebuild"); err != nil {
			return fmt.Errorf("restore snapshot %s: rebuild: %w", snap.ID, err)
		}
		return nil
	})
}

// runCycle flushes one transaction under the held gate and fails if it
// did not commit.
func (m *Manager) runCycle(ctx context.Context, stage string) error {
	report, err := m.engine.TickLocked(ctx)
	if err != nil {
		return err
	}
	if report.State != txn.StateCommitted {
		errs := collectErrors(report)
		return fmt.Errorf("%s transaction %s: %v", stage, report.Transaction, errs)
	}
	return nil
}

// submitClear proposes destruction of every live root entity (destroy
// cascades to descendants), unloading of every asset, and a reset of
// every touched layer so properties written since the capture cannot
// bleed into the restored world.
func (m *Manager) submitClear(ctx context.Context, h *bus.Handle) error {
	entities, err := m.reader.Entities(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if e.Parent != nil {
			continue
		}
		p := restorePatch(h, ir.EntityPatch{
			Entity: e.Ref,
			Op:     ir.EntityOp{Kind: ir.EntityDestroy},
		})
		if err := h.Submit(p); err != nil {
			return err
		}
	}

	assets, err := m.reader.Assets(ctx)
	if err != nil {
		return err
	}
	for _, a := range assets {
		p := restorePatch(h, ir.AssetPatch{
			AssetID: a.ID,
			Op:      ir.AssetOp{Kind: ir.AssetUnload},
		})
		if err := h.Submit(p); err != nil {
			return err
		}
	}

	layers, err := m.reader.Layers(ctx)
	if err != nil {
		return err
	}
	for _, l := range layers {
		p := restorePatch(h, ir.LayerPatch{
			LayerID: l.ID,
			Op:      ir.LayerOp{Kind: ir.LayerReset},
		})
		if err := h.Submit(p); err != nil {
			return err
		}
	}
	return nil
}

// submitRebuild proposes the snapshot's state in dependency order:
// entities first, then edges and attachments that presuppose them.
func submitRebuild(h *bus.Handle, snap *Snapshot) error {
	submit := func(kind ir.PatchKind) error {
		return h.Submit(restorePatch(h, kind))
	}

	for _, e := range snap.Entities {
		if err := submit(ir.EntityPatch{
			Entity: e.Ref,
			Op:     ir.EntityOp{Kind: ir.EntityCreate, Archetype: e.Archetype, Components: e.Components},
		}); err != nil {
			return err
		}
	}

	for _, e := range snap.Entities {
		if !e.Enabled {
			if err := submit(ir.EntityPatch{
				Entity: e.Ref,
				Op:     ir.EntityOp{Kind: ir.EntityDisable},
			}); err != nil {
				return err
			}
		}
		for _, tag := range e.Tags {
			if err := submit(ir.EntityPatch{
				Entity: e.Ref,
				Op:     ir.EntityOp{Kind: ir.EntityAddTag, Tag: tag},
			}); err != nil {
				return err
			}
		}
		if e.Parent != nil {
			parent := *e.Parent
			if err := submit(ir.HierarchyPatch{
				Entity: e.Ref,
				Op:     ir.HierarchyOp{Kind: ir.HierarchyAttach, Parent: &parent},
			}); err != nil {
				return err
			}
		}
		if e.OrderIndex != 0 {
			if err := submit(ir.HierarchyPatch{
				Entity: e.Ref,
				Op:     ir.HierarchyOp{Kind: ir.HierarchyReorder, Index: e.OrderIndex},
			}); err != nil {
				return err
			}
		}
		if e.Camera != nil {
			if len(e.Camera.Projection) > 0 {
				if err := submit(ir.CameraPatch{
					Entity: e.Ref,
					Op:     ir.CameraOp{Kind: ir.CameraSetProjection, Data: e.Camera.Projection},
				}); err != nil {
					return err
				}
			}
			if e.Camera.Target != nil {
				target := *e.Camera.Target
				if err := submit(ir.CameraPatch{
					Entity: e.Ref,
					Op:     ir.CameraOp{Kind: ir.CameraSetTarget, Target: &target},
				}); err != nil {
					return err
				}
			}
		}
	}

	for _, l := range snap.Layers {
		if l.Active {
			if err := submit(ir.LayerPatch{
				LayerID: l.ID,
				Op:      ir.LayerOp{Kind: ir.LayerActivate},
			}); err != nil {
				return err
			}
		}
		for _, key := range l.Properties.SortedKeys() {
			if err := submit(ir.LayerPatch{
				LayerID: l.ID,
				Op:      ir.LayerOp{Kind: ir.LayerSetProperty, Property: key, Value: l.Properties[key]},
			}); err != nil {
				return err
			}
		}
	}

	for _, a := range snap.Assets {
		if err := submit(ir.AssetPatch{
			AssetID: a.ID,
			Op:      ir.AssetOp{Kind: ir.AssetLoad, Path: a.Path, AssetType: a.AssetType, Data: a.Data},
		}); err != nil {
			return err
		}
	}

	if snap.Camera != nil {
		if err := submit(ir.CameraPatch{
			Entity: *snap.Camera,
			Op:     ir.CameraOp{Kind: ir.CameraMakeActive},
		}); err != nil {
			return err
		}
	}
	return nil
}

// restorePatch wraps a kind in a maximum-priority patch from the restore
// namespace.
func restorePatch(h *bus.Handle, kind ir.PatchKind) ir.Patch {
	return ir.Patch{
		Source:   h.ID(),
		Priority: math.MaxInt32,
		Kind:     kind,
	}
}

func collectErrors(report *txn.Report) []error {
	var errs []error
	for _, o := range report.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
