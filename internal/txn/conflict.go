package txn

import (
	"sort"

	"github.com/tidemark/strata/internal/ir"
)

// ConflictKind categorizes detected incompatibilities.
type ConflictKind string

const (
	// ConflictWriteWrite means two or more namespaces wrote the same
	// state cell in one batch.
	ConflictWriteWrite ConflictKind = "WRITE_WRITE"
	// ConflictCreateDestroy means different namespaces created and
	// destroyed the same entity in one batch.
	ConflictCreateDestroy ConflictKind = "CREATE_DESTROY"
	// ConflictPermissionDenied means a patch's cross-namespace write
	// permission did not hold at resolution time.
	ConflictPermissionDenied ConflictKind = "PERMISSION_DENIED"
)

// Conflict records one detected incompatibility. Conflicts are
// transaction-scoped and never persisted; the indices refer to positions
// in the batch handed to the detector.
type Conflict struct {
	Kind    ConflictKind
	Key     string // The contested write key
	Indices []int  // Every involved patch, in batch order
	Winner  int    // Index of the winning patch (-1 when all lose)
}

// PermissionCheck reports whether a namespace currently holds cross-write
// permission. The detector re-checks cross-namespace targets so that a
// permission revoked after admission still cannot land.
type PermissionCheck func(source ir.NamespaceID) bool

// Resolution is the detector's output.
type Resolution struct {
	Patches   []ir.Patch // Survivors, original relative order
	Conflicts []Conflict
	Dropped   []Outcome
}

// DetectConflicts finds incompatible concurrent writes among the patches
// bound for one transaction and resolves them.
//
// A write key touched by more than one distinct namespace is a WriteWrite
// conflict; create and destroy of one entity from different namespaces is
// a CreateDestroy conflict. Resolution is deterministic: highest priority
// wins, ties break by earliest timestamp, further ties by earliest
// submission order - never by map iteration order. Losing patches are
// dropped and recorded; patches from the winner's own namespace keep
// their sequential semantics and are not dropped.
//
// If a CreateDestroy resolution destroys the entity (or drops its create),
// patches presupposing that entity are dropped as dependent.
func DetectConflicts(patches []ir.Patch, canCrossWrite PermissionCheck) Resolution {
	n := len(patches)
	status := make([]Status, n)
	conflictOf := make([]*Conflict, n)
	var conflicts []*Conflict

	// Permission re-check first: a patch that may not touch its targets
	// cannot win anything.
	if canCrossWrite != nil {
		for i, p := range patches {
			for _, target := range p.Targets() {
				if target.Namespace != p.Source && !canCrossWrite(p.Source) {
					c := &Conflict{
						Kind:    ConflictPermissionDenied,
						Key:     writeKey(p),
						Indices: []int{i},
						Winner:  -1,
					}
					conflicts = append(conflicts, c)
					status[i] = StatusDroppedConflict
					conflictOf[i] = c
					break
				}
			}
		}
	}

	// Group surviving patches by write key, preserving batch order.
	groups := make(map[string][]int)
	var keys []string
	for i, p := range patches {
		if status[i] != "" {
			continue
		}
		key := writeKey(p)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	sort.Strings(keys) // Deterministic conflict report order

	deadEntities := make(map[ir.EntityRef]bool)

	for _, key := range keys {
		indices := groups[key]
		if len(indices) < 2 || !multiSource(patches, indices) {
			continue
		}

		winner := pickWinner(patches, indices)
		kind := ConflictWriteWrite
		if isCreateDestroy(patches, indices) {
			kind = ConflictCreateDestroy
		}

		c := &Conflict{Kind: kind, Key: key, Indices: indices, Winner: winner}
		conflicts = append(conflicts, c)

		winSource := patches[winner].Source
		for _, idx := range indices {
			if idx == winner || patches[idx].Source == winSource {
				continue
			}
			status[idx] = StatusDroppedConflict
			conflictOf[idx] = c
		}

		if kind == ConflictCreateDestroy {
			ep := patches[winner].Kind.(ir.EntityPatch)
			// If the destroy won, the entity dies this cycle; so does
			// everything that presupposes it. If the create won, the
			// entity exists and dependents stand.
			if ep.Op.Kind == ir.EntityDestroy {
				deadEntities[ep.Entity] = true
			}
		}
	}

	for i, p := range patches {
		if status[i] != "" {
			continue
		}
		if target, ok := dependsOn(p); ok && deadEntities[target] {
			status[i] = StatusDroppedDependent
		}
	}

	res := Resolution{}
	for _, c := range conflicts {
		res.Conflicts = append(res.Conflicts, *c)
	}
	for i, p := range patches {
		if status[i] != "" {
			res.Dropped = append(res.Dropped, Outcome{
				Patch:    p,
				Status:   status[i],
				Conflict: conflictOf[i],
			})
			continue
		}
		res.Patches = append(res.Patches, p)
	}
	return res
}

// multiSource reports whether the indexed patches come from more than one
// namespace.
func multiSource(patches []ir.Patch, indices []int) bool {
	first := patches[indices[0]].Source
	for _, idx := range indices[1:] {
		if patches[idx].Source != first {
			return true
		}
	}
	return false
}

// isCreateDestroy reports whether the group mixes create and destroy ops
// from different namespaces.
func isCreateDestroy(patches []ir.Patch, indices []int) bool {
	var creates, destroys []ir.NamespaceID
	for _, idx := range indices {
		ep, ok := patches[idx].Kind.(ir.EntityPatch)
		if !ok {
			continue
		}
		switch ep.Op.Kind {
		case ir.EntityCreate:
			creates = append(creates, patches[idx].Source)
		case ir.EntityDestroy:
			destroys = append(destroys, patches[idx].Source)
		}
	}
	for _, c := range creates {
		for _, d := range destroys {
			if c != d {
				return true
			}
		}
	}
	return false
}

// pickWinner selects the winning patch: highest priority, then earliest
// timestamp, then earliest submission order. Indices ascend, so keeping
// best on a full tie already resolves the third criterion - a later
// index never displaces an equal earlier one.
func pickWinner(patches []ir.Patch, indices []int) int {
	best := indices[0]
	for _, idx := range indices[1:] {
		p, b := patches[idx], patches[best]
		if p.Priority > b.Priority ||
			(p.Priority == b.Priority && p.Timestamp < b.Timestamp) {
			best = idx
		}
	}
	return best
}
