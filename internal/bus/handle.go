package bus

import (
	"fmt"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/txn"
)

// Handle is a namespace's capability to submit patches. A handle cannot
// submit on behalf of another namespace - the bus rejects any patch whose
// source differs from the handle's identity.
type Handle struct {
	bus *PatchBus
	id  ir.NamespaceID
}

// ID returns the namespace identity this handle submits for.
func (h *Handle) ID() ir.NamespaceID {
	return h.id
}

// Submit admits a patch into the namespace's pending queue, or rejects it
// synchronously. Rejections never partially admit: a patch that fails any
// check leaves every counter untouched.
//
// Safe to call concurrently from multiple producer goroutines. Submission
// never blocks longer than the namespace lock hold time; no I/O happens
// under the lock.
func (h *Handle) Submit(p ir.Patch) error {
	b := h.bus
	if b.isClosed() {
		return &Error{Code: CodeBusClosed, Namespace: h.id, Message: "bus is closed"}
	}

	ns := b.lookup(h.id)
	if ns == nil {
		return &Error{Code: CodeBusClosed, Namespace: h.id, Message: "namespace is unregistered"}
	}

	if p.Source != h.id {
		return &Error{
			Code:      CodeForgery,
			Namespace: h.id,
			Message:   fmt.Sprintf("patch source %s does not match handle namespace", p.Source),
		}
	}

	// Cross-namespace targets require the cross-write permission.
	for _, target := range p.Targets() {
		if target.Namespace != h.id && !ns.perms.CrossWrite {
			return &Error{
				Code:      CodePermissionDenied,
				Namespace: h.id,
				Message:   fmt.Sprintf("write to foreign entity %s without cross-write permission", target),
			}
		}
	}

	payload := p.PayloadSize()

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return &Error{Code: CodeBusClosed, Namespace: h.id, Message: "namespace is unregistered"}
	}

	// Quota checks run before any mutation - no partial admission.
	limits := ns.limits
	if limits.MaxPatchesPerCycle > 0 && ns.usage.cyclePatches+1 > limits.MaxPatchesPerCycle {
		return &Error{
			Code:      CodeQuotaExceeded,
			Namespace: h.id,
			Message:   fmt.Sprintf("patches-per-cycle limit %d reached", limits.MaxPatchesPerCycle),
		}
	}
	if limits.MaxPayloadBytes > 0 && ns.usage.cycleBytes+payload > limits.MaxPayloadBytes {
		return &Error{
			Code:      CodeQuotaExceeded,
			Namespace: h.id,
			Message:   fmt.Sprintf("payload bytes limit %d exceeded", limits.MaxPayloadBytes),
		}
	}

	isCreate, isDestroy := entityDelta(p)
	if isCreate && limits.MaxLiveEntities > 0 && ns.usage.liveEntities+1 > limits.MaxLiveEntities {
		return &Error{
			Code:      CodeQuotaExceeded,
			Namespace: h.id,
			Message:   fmt.Sprintf("live entity limit %d reached", limits.MaxLiveEntities),
		}
	}

	// Admitted: stamp and enqueue in arrival order.
	p.Timestamp = b.clock.Next()
	ns.pending = append(ns.pending, p)
	ns.usage.cyclePatches++
	ns.usage.cycleBytes += payload
	if isCreate {
		ns.usage.liveEntities++
	}
	if isDestroy && ns.usage.liveEntities > 0 {
		ns.usage.liveEntities--
	}

	return nil
}

// Results returns this namespace's per-patch outcomes for the last
// completed cycle. A namespace learns here which of its patches were
// dropped by validation or conflict resolution even when the transaction
// overall committed.
func (h *Handle) Results() []txn.Outcome {
	ns := h.bus.lookup(h.id)
	if ns == nil {
		return nil
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]txn.Outcome, len(ns.lastOutcomes))
	copy(out, ns.lastOutcomes)
	return out
}

// PendingCount returns the namespace's queued patch count. Diagnostics
// only.
func (h *Handle) PendingCount() int {
	ns := h.bus.lookup(h.id)
	if ns == nil {
		return 0
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.pending)
}

// entityDelta reports whether the patch creates or destroys an entity.
func entityDelta(p ir.Patch) (isCreate, isDestroy bool) {
	ep, ok := p.Kind.(ir.EntityPatch)
	if !ok {
		return false, false
	}
	return ep.Op.Kind == ir.EntityCreate, ep.Op.Kind == ir.EntityDestroy
}
