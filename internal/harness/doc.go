// Package harness runs declarative world scenarios for conformance
// testing.
//
// A scenario is a YAML file naming the component schemas to load, the
// namespaces to register (with permissions and quotas), a sequence of
// steps (submit, tick, capture, restore), and assertions over the final
// world state and the per-cycle reports. Scenario traces are
// deterministic: namespaces carry fixed names and patch stamps come from
// the logical clock, so a trace can be compared byte-for-byte against a
// golden file.
package harness
