package harness

import (
	"context"
	"fmt"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/store"
	"github.com/tidemark/strata/internal/txn"
)

// checkAssertion evaluates one assertion against the run's final state
// and collected reports.
func checkAssertion(ctx context.Context, result *Result, a *Assertion) error {
	switch a.Type {
	case AssertEntityState:
		return checkEntityState(ctx, result, a)
	case AssertLayerState:
		return checkLayerState(ctx, result, a)
	case AssertAssetState:
		return checkAssetState(ctx, result, a)
	case AssertActiveCamera:
		return checkActiveCamera(ctx, result, a)
	case AssertOutcomeCount:
		return checkOutcomeCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func checkEntityState(ctx context.Context, result *Result, a *Assertion) error {
	ref, err := ir.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	entities, err := result.reader.Entities(ctx)
	if err != nil {
		return err
	}

	var found *store.EntityRecord
	for i := range entities {
		if entities[i].Ref == ref {
			found = &entities[i]
			break
		}
	}

	if a.Exists != nil && *a.Exists != (found != nil) {
		return fmt.Errorf("entity %s: exists = %v, want %v", ref, found != nil, *a.Exists)
	}
	if found == nil {
		if a.Exists != nil && !*a.Exists {
			return nil
		}
		return fmt.Errorf("entity %s not found", ref)
	}

	if a.Enabled != nil && found.Enabled != *a.Enabled {
		return fmt.Errorf("entity %s: enabled = %v, want %v", ref, found.Enabled, *a.Enabled)
	}
	for _, tag := range a.Tags {
		if !containsString(found.Tags, tag) {
			return fmt.Errorf("entity %s: missing tag %q (has %v)", ref, tag, found.Tags)
		}
	}
	for name, raw := range a.Components {
		want, err := ir.FromGo(map[string]any(raw))
		if err != nil {
			return fmt.Errorf("component %q: %w", name, err)
		}
		got, ok := found.Components[name]
		if !ok {
			return fmt.Errorf("entity %s: missing component %q", ref, name)
		}
		// Subset match: only asserted fields are compared.
		for field, fieldWant := range want.(ir.Object) {
			fieldGot, ok := got[field]
			if !ok {
				return fmt.Errorf("entity %s: component %q missing field %q", ref, name, field)
			}
			if !ir.Equal(fieldGot, fieldWant) {
				return fmt.Errorf("entity %s: component %q field %q = %v, want %v",
					ref, name, field, fieldGot, fieldWant)
			}
		}
	}
	return nil
}

func checkLayerState(ctx context.Context, result *Result, a *Assertion) error {
	layers, err := result.reader.Layers(ctx)
	if err != nil {
		return err
	}
	for _, l := range layers {
		if l.ID != a.Layer {
			continue
		}
		if a.Active != nil && l.Active != *a.Active {
			return fmt.Errorf("layer %q: active = %v, want %v", a.Layer, l.Active, *a.Active)
		}
		for prop, raw := range a.Properties {
			want, err := ir.FromGo(raw)
			if err != nil {
				return fmt.Errorf("property %q: %w", prop, err)
			}
			got, ok := l.Properties[prop]
			if !ok {
				return fmt.Errorf("layer %q: missing property %q", a.Layer, prop)
			}
			if !ir.Equal(got, want) {
				return fmt.Errorf("layer %q: property %q = %v, want %v", a.Layer, prop, got, want)
			}
		}
		return nil
	}
	return fmt.Errorf("layer %q not found", a.Layer)
}

func checkAssetState(ctx context.Context, result *Result, a *Assertion) error {
	assets, err := result.reader.Assets(ctx)
	if err != nil {
		return err
	}
	var found *store.AssetRecord
	for i := range assets {
		if assets[i].ID == a.Asset {
			found = &assets[i]
			break
		}
	}
	if a.Exists != nil && *a.Exists != (found != nil) {
		return fmt.Errorf("asset %q: exists = %v, want %v", a.Asset, found != nil, *a.Exists)
	}
	if found == nil {
		if a.Exists != nil && !*a.Exists {
			return nil
		}
		return fmt.Errorf("asset %q not found", a.Asset)
	}
	if a.Path != "" && found.Path != a.Path {
		return fmt.Errorf("asset %q: path = %q, want %q", a.Asset, found.Path, a.Path)
	}
	return nil
}

func checkActiveCamera(ctx context.Context, result *Result, a *Assertion) error {
	ref, err := ir.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	cam, err := result.reader.ActiveCamera(ctx)
	if err != nil {
		return err
	}
	if cam == nil {
		return fmt.Errorf("no active camera, want %s", ref)
	}
	if *cam != ref {
		return fmt.Errorf("active camera = %s, want %s", *cam, ref)
	}
	return nil
}

func checkOutcomeCount(result *Result, a *Assertion) error {
	count := 0
	for _, report := range result.Reports {
		for _, o := range report.Outcomes {
			if o.Status == txn.Status(a.Status) {
				count++
			}
		}
	}
	if count != a.Count {
		return fmt.Errorf("outcomes with status %q: got %d, want %d", a.Status, count, a.Count)
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
