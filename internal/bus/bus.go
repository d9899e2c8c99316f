// Package bus implements the patch bus: the hub through which namespace
// producers propose changes to the world.
//
// Producers hold a Handle and call Submit from any goroutine; admission
// enforces identity, permissions, and resource quotas synchronously.
// One consumer per world calls Drain once per apply cycle to pull every
// pending patch into an ordered batch.
package bus

import (
	"sync"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/txn"
)

// namespace is one isolation domain registered on the bus.
// The mutex guards the pending queue, usage counters, and outcomes; no
// I/O or unbounded work ever happens under it.
type namespace struct {
	id     ir.NamespaceID
	perms  NamespacePermissions
	limits ResourceLimits

	mu           sync.Mutex
	pending      []ir.Patch
	usage        usage
	closed       bool
	lastOutcomes []txn.Outcome
}

// PatchBus accepts patches from namespace handles, enforces quotas, and
// drains pending patches into a batch each cycle.
//
// Thread-safety model:
//   - Register/Unregister/Submit: safe from any goroutine
//   - Drain: called by exactly one consumer goroutine per cycle
type PatchBus struct {
	clock *Clock

	mu         sync.RWMutex
	namespaces map[ir.NamespaceID]*namespace
	order      []ir.NamespaceID // Registration order, for deterministic drains
	closed     bool
	cycle      uint64
}

// New creates an open, empty bus.
func New() *PatchBus {
	return &PatchBus{
		clock:      NewClock(),
		namespaces: make(map[ir.NamespaceID]*namespace),
	}
}

// Clock exposes the bus's logical clock. Snapshot restore seeds new
// worlds from the captured clock position.
func (b *PatchBus) Clock() *Clock {
	return b.clock
}

// Register creates a namespace with a fresh identity and zeroed usage
// counters and returns its handle.
func (b *PatchBus) Register(perms NamespacePermissions, limits ResourceLimits) *Handle {
	h, _ := b.register(ir.NewNamespaceID(), perms, limits)
	return h
}

// RegisterNamed creates a namespace under a caller-chosen identity.
// Scenario replay and golden tests need stable namespace names; fresh
// UUIDs would make their traces nondeterministic.
func (b *PatchBus) RegisterNamed(id ir.NamespaceID, perms NamespacePermissions, limits ResourceLimits) (*Handle, error) {
	return b.register(id, perms, limits)
}

func (b *PatchBus) register(id ir.NamespaceID, perms NamespacePermissions, limits ResourceLimits) (*Handle, error) {
	ns := &namespace{
		id:     id,
		perms:  perms,
		limits: limits,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.namespaces[id]; exists {
		return nil, &Error{Code: CodeForgery, Namespace: id, Message: "namespace id already registered"}
	}
	b.namespaces[id] = ns
	b.order = append(b.order, id)

	return &Handle{bus: b, id: id}, nil
}

// Unregister closes a namespace. Patches already admitted still
// participate in the current cycle - they are not retroactively
// withdrawn - but every later Submit on the handle returns BusClosed.
func (b *PatchBus) Unregister(h *Handle) {
	b.mu.RLock()
	ns := b.namespaces[h.id]
	b.mu.RUnlock()
	if ns == nil {
		return
	}
	ns.mu.Lock()
	ns.closed = true
	ns.mu.Unlock()
}

// Close shuts the bus. Every subsequent Submit returns BusClosed.
// Pending patches remain drainable so an in-flight cycle can finish.
func (b *PatchBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Batch is one cycle's worth of drained patches, ordered by admission
// stamp.
type Batch struct {
	Cycle   uint64
	Patches []ir.Patch
}

// Drain pulls all pending patches across all namespaces into one ordered
// sequence and resets per-cycle quota counters.
//
// Consumer-only: exactly one goroutine may call Drain, and never
// concurrently with itself. Namespace iteration follows registration
// order and patches carry unique logical stamps, so the merged order is
// deterministic.
func (b *PatchBus) Drain() Batch {
	b.mu.Lock()
	b.cycle++
	cycle := b.cycle

	var all []ir.Patch
	kept := b.order[:0]
	for _, id := range b.order {
		ns := b.namespaces[id]

		ns.mu.Lock()
		all = append(all, ns.pending...)
		ns.pending = nil
		ns.usage.resetCycle()
		dead := ns.closed
		ns.mu.Unlock()

		if dead {
			delete(b.namespaces, id)
		} else {
			kept = append(kept, id)
		}
	}
	b.order = kept
	b.mu.Unlock()

	// Merge namespace queues into global admission order. Stamps are
	// unique, so this sort is a total order.
	sortPatchesByStamp(all)

	return Batch{Cycle: cycle, Patches: all}
}

// Deliver records per-patch outcomes back onto the submitting namespaces
// and reconciles the live-entity projection for entity patches that did
// not apply. Called by the consumer after each cycle completes.
func (b *PatchBus) Deliver(outcomes []txn.Outcome) {
	byNS := make(map[ir.NamespaceID][]txn.Outcome)
	for _, o := range outcomes {
		byNS[o.Patch.Source] = append(byNS[o.Patch.Source], o)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ns := range b.namespaces {
		nsOutcomes := byNS[id]

		ns.mu.Lock()
		ns.lastOutcomes = nsOutcomes
		for _, o := range nsOutcomes {
			if o.Status == txn.StatusApplied {
				continue
			}
			// A dropped create never materialized; a dropped destroy left
			// its entity alive. Walk the projection back.
			if ep, ok := o.Patch.Kind.(ir.EntityPatch); ok {
				switch ep.Op.Kind {
				case ir.EntityCreate:
					if ns.usage.liveEntities > 0 {
						ns.usage.liveEntities--
					}
				case ir.EntityDestroy:
					ns.usage.liveEntities++
				}
			}
		}
		ns.mu.Unlock()
	}
}

// CrossWriteAllowed reports whether the namespace currently holds the
// cross-write permission. The consumer re-checks permissions at conflict
// resolution so a revocation between admission and apply still holds.
func (b *PatchBus) CrossWriteAllowed(id ir.NamespaceID) bool {
	ns := b.lookup(id)
	if ns == nil {
		return false
	}
	return ns.perms.CrossWrite
}

// lookup returns the namespace for an id, or nil.
func (b *PatchBus) lookup(id ir.NamespaceID) *namespace {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.namespaces[id]
}

// isClosed reports whether the bus has been closed.
func (b *PatchBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// sortPatchesByStamp sorts by admission stamp, ascending. Insertion sort
// over a nearly sorted merge of per-namespace FIFO queues; stable by
// construction since stamps are unique.
func sortPatchesByStamp(patches []ir.Patch) {
	for i := 1; i < len(patches); i++ {
		for j := i; j > 0 && patches[j].Timestamp < patches[j-1].Timestamp; j-- {
			patches[j], patches[j-1] = patches[j-1], patches[j]
		}
	}
}
