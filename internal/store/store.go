package store

import (
	"context"

	"github.com/tidemark/strata/internal/ir"
)

// Applier applies one committed transaction atomically. Either every
// patch takes effect or none do.
type Applier interface {
	Apply(ctx context.Context, id ir.TransactionID, patches []ir.Patch) (*ApplyReport, error)
}

// Reader provides a consistent read view of the world. Snapshot capture
// depends on consistency: a Reader must never observe a half-applied
// transaction.
type Reader interface {
	Entities(ctx context.Context) ([]EntityRecord, error)
	Layers(ctx context.Context) ([]LayerRecord, error)
	Assets(ctx context.Context) ([]AssetRecord, error)
	ActiveCamera(ctx context.Context) (*ir.EntityRef, error)
}

// ApplyReport summarizes one successful apply.
type ApplyReport struct {
	Transaction ir.TransactionID
	Applied     int
}

// EntityRecord is one entity's full state as read back from a store.
type EntityRecord struct {
	Ref        ir.EntityRef
	Enabled    bool
	Archetype  string
	Parent     *ir.EntityRef
	OrderIndex int
	Tags       []string // Sorted
	Components map[string]ir.Object
	Camera     *CameraRecord
}

// CameraRecord is camera state attached to an entity.
type CameraRecord struct {
	Projection ir.Object
	Target     *ir.EntityRef
}

// LayerRecord is one world layer's state.
type LayerRecord struct {
	ID         string
	Active     bool
	Properties ir.Object
}

// AssetRecord is one loaded asset's state.
type AssetRecord struct {
	ID        string
	Path      string
	AssetType string
	Data      ir.Object
}
