// Package ir defines the intermediate representation carried by every patch:
// the constrained Value payload type, namespace-qualified entity references,
// and the Patch operation model.
//
// Values are a closed tagged union (Null, Bool, Int, Float, String, Vec3,
// Array, Object). A Value is always fully materialized before it enters the
// bus; there is no streaming decode. Depth and collection size are bounded
// explicitly so pathological payloads are rejected instead of overflowing
// the call stack.
//
// Canonical serialization (canonical.go) provides deterministic bytes for
// content hashing and golden-trace comparison.
package ir
