package store

import (
	"context"
	"sync"

	"github.com/tidemark/strata/internal/ir"
)

// Memory is the in-memory store. Reads and applies may interleave from
// different goroutines; Apply itself is serialized.
type Memory struct {
	mu sync.RWMutex
	w  *world
}

var _ Applier = (*Memory)(nil)
var _ Reader = (*Memory)(nil)

// NewMemory creates an empty in-memory world.
func NewMemory() *Memory {
	return &Memory{w: newWorld()}
}

// Apply stages the transaction on a copy of the world and swaps the copy
// in only if every patch succeeds. A failed patch leaves the live world
// untouched.
func (m *Memory) Apply(ctx context.Context, id ir.TransactionID, patches []ir.Patch) (*ApplyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.w.clone()
	staged.resetDirty()
	for i, p := range patches {
		if err := staged.apply(i, p); err != nil {
			return nil, err
		}
	}
	m.w = staged

	return &ApplyReport{Transaction: id, Applied: len(patches)}, nil
}

// Entities returns every live entity, sorted by ref.
func (m *Memory) Entities(ctx context.Context) ([]EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.w.entityRecords(), nil
}

// Layers returns every touched layer, sorted by id.
func (m *Memory) Layers(ctx context.Context) ([]LayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.w.layerRecords(), nil
}

// Assets returns every loaded asset, sorted by id.
func (m *Memory) Assets(ctx context.Context) ([]AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.w.assetRecords(), nil
}

// ActiveCamera returns the active camera entity, or nil if none is set.
func (m *Memory) ActiveCamera(ctx context.Context) (*ir.EntityRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRef(m.w.camera), nil
}
