package bus

// NamespacePermissions states what a namespace may do beyond writing its
// own entities.
type NamespacePermissions struct {
	// CrossWrite allows patches that target entities owned by other
	// namespaces. Without it, any foreign target is rejected at admission.
	CrossWrite bool
}

// ResourceLimits caps a namespace's resource consumption. A zero field
// means unlimited.
type ResourceLimits struct {
	// MaxPatchesPerCycle caps admitted patches between two drains.
	MaxPatchesPerCycle int

	// MaxPayloadBytes caps the summed payload accounting size of patches
	// admitted between two drains.
	MaxPayloadBytes int

	// MaxLiveEntities caps the namespace's projected live entity count.
	// Checked on entity create admission; the projection is reconciled
	// when the cycle reports which creates actually applied.
	MaxLiveEntities int
}

// Unlimited is the zero limit set: no caps.
var Unlimited = ResourceLimits{}

// usage tracks a namespace's consumption against its limits.
// Guarded by the owning namespace's mutex.
type usage struct {
	cyclePatches int // Patches admitted since the last drain
	cycleBytes   int // Payload bytes admitted since the last drain
	liveEntities int // Projected live entities (creates minus destroys)
}

// resetCycle clears the per-cycle counters. The live entity projection
// survives cycles.
func (u *usage) resetCycle() {
	u.cyclePatches = 0
	u.cycleBytes = 0
}
