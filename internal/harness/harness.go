package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidemark/strata/internal/bus"
	"github.com/tidemark/strata/internal/engine"
	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/schema"
	"github.com/tidemark/strata/internal/schemac"
	"github.com/tidemark/strata/internal/snapshot"
	"github.com/tidemark/strata/internal/store"
	"github.com/tidemark/strata/internal/txn"
)

// Result is the full output of one scenario run.
type Result struct {
	// Trace is the deterministic event log compared against golden files.
	Trace []map[string]any

	// Reports collects the report of every tick step, in order.
	Reports []*txn.Report

	// Snapshot is the last captured snapshot, if any.
	Snapshot *snapshot.Snapshot

	reader store.Reader
}

// Run executes a scenario against a fresh in-memory world and evaluates
// its assertions. The returned Result carries the trace even when an
// assertion fails, so golden comparisons can still run.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	registry := schema.NewRegistry()
	for _, path := range scenario.Schemas {
		compiled, err := schemac.CompileFile(path)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", path, err)
		}
		for _, named := range compiled {
			if err := registry.Register(named.Name, named.Schema); err != nil {
				return nil, fmt.Errorf("register component %q: %w", named.Name, err)
			}
		}
	}

	var opts []engine.EngineOption
	if scenario.RejectOnConflict {
		opts = append(opts, engine.WithRejectOnConflict(true))
	}
	mem := store.NewMemory()
	eng := engine.New(bus.New(), schema.NewValidator(registry), mem, opts...)
	manager := snapshot.NewManager(eng, mem)

	handles := make(map[string]*bus.Handle, len(scenario.Namespaces))
	for _, decl := range scenario.Namespaces {
		h, err := eng.Bus().RegisterNamed(
			ir.NamespaceID(decl.Name),
			bus.NamespacePermissions{CrossWrite: decl.CrossWrite},
			bus.ResourceLimits{
				MaxPatchesPerCycle: decl.MaxPatchesPerCycle,
				MaxPayloadBytes:    decl.MaxPayloadBytes,
				MaxLiveEntities:    decl.MaxLiveEntities,
			},
		)
		if err != nil {
			return nil, fmt.Errorf("register namespace %q: %w", decl.Name, err)
		}
		handles[decl.Name] = h
	}

	result := &Result{reader: mem}
	for i, step := range scenario.Steps {
		switch {
		case step.Submit != nil:
			if err := runSubmit(result, handles[step.Submit.Namespace], step.Submit); err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
		case step.Tick != nil:
			report, err := eng.Tick(ctx)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: tick: %w", i, err)
			}
			result.Reports = append(result.Reports, report)
			result.Trace = append(result.Trace, cycleEvent(report))
		case step.Capture != nil:
			snap, err := manager.Capture(ctx)
			if err != nil {
				return nil, fmt.Errorf("steps[%d]: capture: %w", i, err)
			}
			result.Snapshot = snap
			result.Trace = append(result.Trace, map[string]any{
				"type":     "capture",
				"entities": len(snap.Entities),
				"layers":   len(snap.Layers),
				"assets":   len(snap.Assets),
			})
		case step.Restore != nil:
			if result.Snapshot == nil {
				return nil, fmt.Errorf("steps[%d]: restore without a prior capture", i)
			}
			if err := manager.Restore(ctx, result.Snapshot); err != nil {
				return nil, fmt.Errorf("steps[%d]: restore: %w", i, err)
			}
			result.Trace = append(result.Trace, map[string]any{"type": "restore"})
		}
	}

	for i, a := range scenario.Assertions {
		if err := checkAssertion(ctx, result, &a); err != nil {
			return result, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return result, nil
}

func runSubmit(result *Result, h *bus.Handle, step *SubmitStep) error {
	kind, err := buildPatchKind(&step.Patch)
	if err != nil {
		return err
	}
	err = h.Submit(ir.Patch{
		Source:   h.ID(),
		Priority: step.Priority,
		Kind:     kind,
	})

	if step.ExpectError == "" {
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	}

	var be *bus.Error
	switch {
	case err == nil:
		return fmt.Errorf("submit: expected %s rejection, got success", step.ExpectError)
	case !errors.As(err, &be) || string(be.Code) != step.ExpectError:
		return fmt.Errorf("submit: expected %s rejection, got %v", step.ExpectError, err)
	}
	result.Trace = append(result.Trace, map[string]any{
		"type":      "submit_rejected",
		"namespace": string(h.ID()),
		"code":      string(be.Code),
	})
	return nil
}

// cycleEvent flattens a report into the deterministic trace form.
// Transaction IDs are fresh UUIDs and are deliberately excluded.
func cycleEvent(report *txn.Report) map[string]any {
	outcomes := make([]any, len(report.Outcomes))
	for i, o := range report.Outcomes {
		entry := map[string]any{
			"source": string(o.Patch.Source),
			"kind":   ir.KindName(o.Patch.Kind),
			"stamp":  int64(o.Patch.Timestamp),
			"status": string(o.Status),
		}
		if o.Err != nil {
			entry["error"] = o.Err.Error()
		}
		outcomes[i] = entry
	}

	conflicts := make([]any, len(report.Conflicts))
	for i, c := range report.Conflicts {
		conflicts[i] = map[string]any{
			"kind":   string(c.Kind),
			"key":    c.Key,
			"winner": c.Winner,
		}
	}

	return map[string]any{
		"type":  "cycle",
		"cycle": int64(report.Cycle),
		"state": string(report.State),
		"stats": map[string]any{
			"in":        report.Stats.In,
			"out":       report.Stats.Out,
			"collapsed": report.Stats.Collapsed,
			"merged":    report.Stats.Merged,
		},
		"conflicts": conflicts,
		"outcomes":  outcomes,
	}
}

// buildPatchKind converts the YAML patch form into a typed patch kind.
func buildPatchKind(d *PatchDecl) (ir.PatchKind, error) {
	switch d.Type {
	case "entity":
		entity, err := ir.ParseEntityRef(d.Entity)
		if err != nil {
			return nil, err
		}
		op := ir.EntityOp{Kind: ir.EntityOpKind(d.Op), Archetype: d.Archetype, Tag: d.Tag}
		if d.Parent != "" {
			parent, err := ir.ParseEntityRef(d.Parent)
			if err != nil {
				return nil, err
			}
			op.Parent = &parent
		}
		if len(d.Components) > 0 {
			op.Components = make(map[string]ir.Object, len(d.Components))
			for name, raw := range d.Components {
				obj, err := toObject(raw)
				if err != nil {
					return nil, fmt.Errorf("component %q: %w", name, err)
				}
				op.Components[name] = obj
			}
		}
		return ir.EntityPatch{Entity: entity, Op: op}, nil

	case "component":
		entity, err := ir.ParseEntityRef(d.Entity)
		if err != nil {
			return nil, err
		}
		op := ir.ComponentOp{Kind: ir.ComponentOpKind(d.Op)}
		if d.Data != nil {
			if op.Data, err = toObject(d.Data); err != nil {
				return nil, err
			}
		}
		if d.Fields != nil {
			if op.Fields, err = toObject(d.Fields); err != nil {
				return nil, err
			}
		}
		return ir.ComponentPatch{Entity: entity, Component: d.Component, Op: op}, nil

	case "layer":
		op := ir.LayerOp{Kind: ir.LayerOpKind(d.Op), Property: d.Property}
		if d.Value != nil {
			v, err := ir.FromGo(d.Value)
			if err != nil {
				return nil, err
			}
			op.Value = v
		}
		return ir.LayerPatch{LayerID: d.Layer, Op: op}, nil

	case "asset":
		op := ir.AssetOp{Kind: ir.AssetOpKind(d.Op), Path: d.Path, AssetType: d.AssetType}
		if d.Data != nil {
			var err error
			if op.Data, err = toObject(d.Data); err != nil {
				return nil, err
			}
		}
		return ir.AssetPatch{AssetID: d.Asset, Op: op}, nil

	case "hierarchy":
		entity, err := ir.ParseEntityRef(d.Entity)
		if err != nil {
			return nil, err
		}
		op := ir.HierarchyOp{Kind: ir.HierarchyOpKind(d.Op), Index: d.Index}
		if d.Parent != "" {
			parent, err := ir.ParseEntityRef(d.Parent)
			if err != nil {
				return nil, err
			}
			op.Parent = &parent
		}
		return ir.HierarchyPatch{Entity: entity, Op: op}, nil

	case "camera":
		entity, err := ir.ParseEntityRef(d.Entity)
		if err != nil {
			return nil, err
		}
		op := ir.CameraOp{Kind: ir.CameraOpKind(d.Op)}
		if d.Data != nil {
			if op.Data, err = toObject(d.Data); err != nil {
				return nil, err
			}
		}
		if d.Target != "" {
			target, err := ir.ParseEntityRef(d.Target)
			if err != nil {
				return nil, err
			}
			op.Target = &target
		}
		return ir.CameraPatch{Entity: entity, Op: op}, nil

	default:
		return nil, fmt.Errorf("unknown patch type %q", d.Type)
	}
}

func toObject(raw map[string]any) (ir.Object, error) {
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return obj, nil
}

