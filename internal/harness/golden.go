package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tidemark/strata/internal/ir"
)

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Traces are serialized as canonical JSON (RFC 8785), so a byte-level
// comparison is meaningful.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an already-obtained result's trace against the
// golden file for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		trace[i] = event
	}
	v, err := ir.FromGo(map[string]any{
		"scenario": scenarioName,
		"trace":    trace,
	})
	if err != nil {
		t.Fatalf("encode trace: %v", err)
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
}
