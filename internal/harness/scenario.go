package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one declarative conformance test.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schemas lists paths to CUE component schema files, relative to the
	// scenario file.
	Schemas []string `yaml:"schemas"`

	// Namespaces declares the producers to register before the steps run.
	Namespaces []NamespaceDecl `yaml:"namespaces"`

	// RejectOnConflict runs the engine in strict mode: any conflict
	// aborts the whole cycle.
	RejectOnConflict bool `yaml:"reject_on_conflict,omitempty"`

	// Steps is the scenario body, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the collected reports.
	Assertions []Assertion `yaml:"assertions"`
}

// NamespaceDecl registers one producer namespace.
type NamespaceDecl struct {
	Name               string `yaml:"name"`
	CrossWrite         bool   `yaml:"cross_write,omitempty"`
	MaxPatchesPerCycle int    `yaml:"max_patches_per_cycle,omitempty"`
	MaxPayloadBytes    int    `yaml:"max_payload_bytes,omitempty"`
	MaxLiveEntities    int    `yaml:"max_live_entities,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	Submit  *SubmitStep `yaml:"submit,omitempty"`
	Tick    *TickStep   `yaml:"tick,omitempty"`
	Capture *struct{}   `yaml:"capture,omitempty"`
	Restore *struct{}   `yaml:"restore,omitempty"`
}

// SubmitStep proposes one patch from a named namespace. ExpectError
// asserts a synchronous admission rejection (quota, forgery,
// permission) instead of success.
type SubmitStep struct {
	Namespace   string    `yaml:"namespace"`
	Priority    int32     `yaml:"priority,omitempty"`
	Patch       PatchDecl `yaml:"patch"`
	ExpectError string    `yaml:"expect_error,omitempty"`
}

// TickStep runs one apply cycle.
type TickStep struct{}

// PatchDecl is the YAML form of a patch. Type selects the family; the
// remaining fields are interpreted per family the same way the patch
// kinds themselves are structured.
type PatchDecl struct {
	Type string `yaml:"type"` // entity|component|layer|asset|hierarchy|camera
	Op   string `yaml:"op"`

	Entity string `yaml:"entity,omitempty"` // "namespace/local_id"
	Parent string `yaml:"parent,omitempty"`
	Target string `yaml:"target,omitempty"`

	Component  string                    `yaml:"component,omitempty"`
	Components map[string]map[string]any `yaml:"components,omitempty"`
	Data       map[string]any            `yaml:"data,omitempty"`
	Fields     map[string]any            `yaml:"fields,omitempty"`

	Layer    string `yaml:"layer,omitempty"`
	Property string `yaml:"property,omitempty"`
	Value    any    `yaml:"value,omitempty"`

	Asset     string `yaml:"asset,omitempty"`
	Path      string `yaml:"path,omitempty"`
	AssetType string `yaml:"asset_type,omitempty"`

	Tag       string `yaml:"tag,omitempty"`
	Archetype string `yaml:"archetype,omitempty"`
	Index     int    `yaml:"index,omitempty"`
}

// Assertion validates final state or collected reports.
type Assertion struct {
	// Type selects the assertion:
	//   - "entity_state": entity existence, enabledness, tags, components
	//   - "layer_state": layer activation and properties
	//   - "asset_state": asset presence and fields
	//   - "active_camera": which entity holds the camera
	//   - "outcome_count": total outcomes with a status across all cycles
	Type string `yaml:"type"`

	Entity     string                    `yaml:"entity,omitempty"`
	Exists     *bool                     `yaml:"exists,omitempty"`
	Enabled    *bool                     `yaml:"enabled,omitempty"`
	Tags       []string                  `yaml:"tags,omitempty"`
	Components map[string]map[string]any `yaml:"components,omitempty"`

	Layer      string         `yaml:"layer,omitempty"`
	Active     *bool          `yaml:"active,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`

	Asset string `yaml:"asset,omitempty"`
	Path  string `yaml:"path,omitempty"`

	Status string `yaml:"status,omitempty"`
	Count  int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertEntityState  = "entity_state"
	AssertLayerState   = "layer_state"
	AssertAssetState   = "asset_state"
	AssertActiveCamera = "active_camera"
	AssertOutcomeCount = "outcome_count"
)

// LoadScenario reads and parses a scenario YAML file. Schema paths are
// resolved relative to the scenario file. Unknown YAML fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, schemaPath := range scenario.Schemas {
		if !filepath.IsAbs(schemaPath) {
			scenario.Schemas[i] = filepath.Join(base, schemaPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Namespaces) == 0 {
		return fmt.Errorf("namespaces list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, schemaPath := range s.Schemas {
		if _, err := os.Stat(schemaPath); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", schemaPath)
		}
	}

	seen := map[string]bool{}
	for i, ns := range s.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespaces[%d]: name is required", i)
		}
		if seen[ns.Name] {
			return fmt.Errorf("namespaces[%d]: duplicate name %q", i, ns.Name)
		}
		seen[ns.Name] = true
	}

	for i, step := range s.Steps {
		set := 0
		if step.Submit != nil {
			set++
			if step.Submit.Namespace == "" {
				return fmt.Errorf("steps[%d].submit: namespace is required", i)
			}
			if !seen[step.Submit.Namespace] {
				return fmt.Errorf("steps[%d].submit: unknown namespace %q", i, step.Submit.Namespace)
			}
			if step.Submit.Patch.Type == "" {
				return fmt.Errorf("steps[%d].submit: patch.type is required", i)
			}
		}
		if step.Tick != nil {
			set++
		}
		if step.Capture != nil {
			set++
		}
		if step.Restore != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of submit, tick, capture, restore is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEntityState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for entity_state", index)
		}
	case AssertLayerState:
		if a.Layer == "" {
			return fmt.Errorf("assertions[%d]: layer is required for layer_state", index)
		}
	case AssertAssetState:
		if a.Asset == "" {
			return fmt.Errorf("assertions[%d]: asset is required for asset_state", index)
		}
	case AssertActiveCamera:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for active_camera", index)
		}
	case AssertOutcomeCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for outcome_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
