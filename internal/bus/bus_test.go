package bus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/txn"
)

func createPatch(src ir.NamespaceID, id uint64) ir.Patch {
	return ir.Patch{
		Source: src,
		Kind: ir.EntityPatch{
			Entity: ir.EntityRef{Namespace: src, LocalID: id},
			Op:     ir.EntityOp{Kind: ir.EntityCreate},
		},
	}
}

func destroyPatch(src ir.NamespaceID, id uint64) ir.Patch {
	return ir.Patch{
		Source: src,
		Kind: ir.EntityPatch{
			Entity: ir.EntityRef{Namespace: src, LocalID: id},
			Op:     ir.EntityOp{Kind: ir.EntityDestroy},
		},
	}
}

func setPatch(src, owner ir.NamespaceID, id uint64, data ir.Object) ir.Patch {
	return ir.Patch{
		Source: src,
		Kind: ir.ComponentPatch{
			Entity:    ir.EntityRef{Namespace: owner, LocalID: id},
			Component: "Transform",
			Op:        ir.ComponentOp{Kind: ir.ComponentSet, Data: data},
		},
	}
}

// TestRegister_FreshIdentity tests each registration gets a distinct
// namespace id.
func TestRegister_FreshIdentity(t *testing.T) {
	b := New()
	h1 := b.Register(NamespacePermissions{}, Unlimited)
	h2 := b.Register(NamespacePermissions{}, Unlimited)
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.NotEmpty(t, h1.ID())
}

// TestSubmit_StampsAndQueues tests admitted patches get unique, strictly
// increasing stamps.
func TestSubmit_StampsAndQueues(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, Unlimited)

	require.NoError(t, h.Submit(createPatch(h.ID(), 1)))
	require.NoError(t, h.Submit(createPatch(h.ID(), 2)))
	assert.Equal(t, 2, h.PendingCount())

	batch := b.Drain()
	require.Len(t, batch.Patches, 2)
	assert.Less(t, batch.Patches[0].Timestamp, batch.Patches[1].Timestamp)
	assert.Equal(t, uint64(1), batch.Cycle)
	assert.Equal(t, 0, h.PendingCount())
}

// TestSubmit_Forgery tests a handle cannot submit for another namespace.
func TestSubmit_Forgery(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, Unlimited)
	other := b.Register(NamespacePermissions{}, Unlimited)

	err := h.Submit(createPatch(other.ID(), 1))
	require.Error(t, err)
	assert.True(t, IsForgery(err))
	assert.Equal(t, 0, h.PendingCount())
}

// TestSubmit_CrossWritePermission tests foreign targets are rejected
// without the cross-write permission and admitted with it.
func TestSubmit_CrossWritePermission(t *testing.T) {
	b := New()
	owner := b.Register(NamespacePermissions{}, Unlimited)
	plain := b.Register(NamespacePermissions{}, Unlimited)
	privileged := b.Register(NamespacePermissions{CrossWrite: true}, Unlimited)

	foreign := setPatch(plain.ID(), owner.ID(), 1, ir.Object{"x": ir.Int(1)})
	err := plain.Submit(foreign)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))

	allowed := setPatch(privileged.ID(), owner.ID(), 1, ir.Object{"x": ir.Int(1)})
	assert.NoError(t, privileged.Submit(allowed))
}

// TestSubmit_PatchQuota tests the (N+1)th patch in a cycle is rejected
// and the quota resets after a drain.
func TestSubmit_PatchQuota(t *testing.T) {
	const n = 3
	b := New()
	h := b.Register(NamespacePermissions{}, ResourceLimits{MaxPatchesPerCycle: n})

	for i := 0; i < n; i++ {
		require.NoError(t, h.Submit(createPatch(h.ID(), uint64(i))))
	}
	err := h.Submit(createPatch(h.ID(), 99))
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, n, h.PendingCount(), "rejected patch was not queued")

	b.Drain()
	assert.NoError(t, h.Submit(createPatch(h.ID(), 100)), "per-cycle quota resets on drain")
}

// TestSubmit_PayloadQuota tests the summed payload budget.
func TestSubmit_PayloadQuota(t *testing.T) {
	small := setPatch("", "", 1, ir.Object{"x": ir.Int(1)})
	budget := small.PayloadSize()

	b := New()
	h := b.Register(NamespacePermissions{}, ResourceLimits{MaxPayloadBytes: budget})

	first := setPatch(h.ID(), h.ID(), 1, ir.Object{"x": ir.Int(1)})
	require.NoError(t, h.Submit(first))

	second := setPatch(h.ID(), h.ID(), 2, ir.Object{"x": ir.Int(2)})
	err := h.Submit(second)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
}

// TestSubmit_LiveEntityQuota tests the projected live entity cap:
// destroys free room, and the projection persists across cycles.
func TestSubmit_LiveEntityQuota(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, ResourceLimits{MaxLiveEntities: 2})

	require.NoError(t, h.Submit(createPatch(h.ID(), 1)))
	require.NoError(t, h.Submit(createPatch(h.ID(), 2)))

	err := h.Submit(createPatch(h.ID(), 3))
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	b.Drain()
	err = h.Submit(createPatch(h.ID(), 3))
	assert.Error(t, err, "live entity projection survives drains")

	require.NoError(t, h.Submit(destroyPatch(h.ID(), 1)))
	assert.NoError(t, h.Submit(createPatch(h.ID(), 3)))
}

// TestDeliver_ReconcilesLiveEntities tests a create that did not apply
// gives its slot back.
func TestDeliver_ReconcilesLiveEntities(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, ResourceLimits{MaxLiveEntities: 1})

	p := createPatch(h.ID(), 1)
	require.NoError(t, h.Submit(p))
	require.Error(t, h.Submit(createPatch(h.ID(), 2)))

	batch := b.Drain()
	require.Len(t, batch.Patches, 1)
	b.Deliver([]txn.Outcome{{Patch: batch.Patches[0], Status: txn.StatusDroppedInvalid}})

	assert.NoError(t, h.Submit(createPatch(h.ID(), 2)), "slot reclaimed after the create was dropped")
}

// TestResults tests per-namespace outcome delivery.
func TestResults(t *testing.T) {
	b := New()
	h1 := b.Register(NamespacePermissions{}, Unlimited)
	h2 := b.Register(NamespacePermissions{}, Unlimited)

	require.NoError(t, h1.Submit(createPatch(h1.ID(), 1)))
	require.NoError(t, h2.Submit(createPatch(h2.ID(), 1)))

	batch := b.Drain()
	outcomes := make([]txn.Outcome, len(batch.Patches))
	for i, p := range batch.Patches {
		outcomes[i] = txn.Outcome{Patch: p, Status: txn.StatusApplied}
	}
	b.Deliver(outcomes)

	r1 := h1.Results()
	require.Len(t, r1, 1)
	assert.Equal(t, h1.ID(), r1[0].Patch.Source)
	assert.Equal(t, txn.StatusApplied, r1[0].Status)

	require.Len(t, h2.Results(), 1)
}

// TestDrain_GlobalOrder tests interleaved submissions from several
// namespaces drain in admission order.
func TestDrain_GlobalOrder(t *testing.T) {
	b := New()
	h1 := b.Register(NamespacePermissions{}, Unlimited)
	h2 := b.Register(NamespacePermissions{}, Unlimited)

	require.NoError(t, h1.Submit(createPatch(h1.ID(), 1)))
	require.NoError(t, h2.Submit(createPatch(h2.ID(), 1)))
	require.NoError(t, h1.Submit(createPatch(h1.ID(), 2)))
	require.NoError(t, h2.Submit(createPatch(h2.ID(), 2)))

	batch := b.Drain()
	require.Len(t, batch.Patches, 4)
	for i := 1; i < len(batch.Patches); i++ {
		assert.Less(t, batch.Patches[i-1].Timestamp, batch.Patches[i].Timestamp)
	}
	assert.Equal(t, h1.ID(), batch.Patches[0].Source)
	assert.Equal(t, h2.ID(), batch.Patches[1].Source)
}

// TestUnregister tests closed namespaces reject submits but already
// admitted patches still drain.
func TestUnregister(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, Unlimited)

	require.NoError(t, h.Submit(createPatch(h.ID(), 1)))
	b.Unregister(h)

	err := h.Submit(createPatch(h.ID(), 2))
	require.Error(t, err)
	assert.True(t, IsBusClosed(err))

	batch := b.Drain()
	assert.Len(t, batch.Patches, 1, "admitted patch survives unregister")

	err = h.Submit(createPatch(h.ID(), 3))
	assert.True(t, IsBusClosed(err), "namespace purged after drain")
}

// TestClose tests a closed bus rejects every submit but lets the
// in-flight cycle drain.
func TestClose(t *testing.T) {
	b := New()
	h := b.Register(NamespacePermissions{}, Unlimited)
	require.NoError(t, h.Submit(createPatch(h.ID(), 1)))

	b.Close()
	err := h.Submit(createPatch(h.ID(), 2))
	require.Error(t, err)
	assert.True(t, IsBusClosed(err))

	batch := b.Drain()
	assert.Len(t, batch.Patches, 1)
}

// TestSubmit_Concurrent tests concurrent producers: every admitted patch
// drains exactly once with a unique stamp.
func TestSubmit_Concurrent(t *testing.T) {
	const producers = 8
	const perProducer = 50

	b := New()
	handles := make([]*Handle, producers)
	for i := range handles {
		handles[i] = b.Register(NamespacePermissions{}, Unlimited)
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := h.Submit(createPatch(h.ID(), uint64(i))); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}(h)
	}
	wg.Wait()

	batch := b.Drain()
	require.Len(t, batch.Patches, producers*perProducer)

	seen := make(map[uint64]bool, len(batch.Patches))
	for _, p := range batch.Patches {
		require.False(t, seen[p.Timestamp], "duplicate stamp %d", p.Timestamp)
		seen[p.Timestamp] = true
	}
}

// TestClock tests monotone stamps and explicit seeding.
func TestClock(t *testing.T) {
	c := NewClock()
	a, b := c.Next(), c.Next()
	assert.Less(t, a, b)

	seeded := NewClockAt(100)
	assert.Equal(t, uint64(100), seeded.Current())
	assert.Equal(t, uint64(101), seeded.Next())
}

// TestError_Message tests the error string carries code and namespace.
func TestError_Message(t *testing.T) {
	err := &Error{Code: CodeQuotaExceeded, Namespace: "ns", Message: "limit 3 reached"}
	s := fmt.Sprintf("%v", err)
	assert.Contains(t, s, string(CodeQuotaExceeded))
	assert.Contains(t, s, "limit 3 reached")
}
