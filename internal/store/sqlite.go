package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tidemark/strata/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Camera columns folded into entities
// 2 - Archetype column on entities
const currentSchemaVersion = 2

// SQLite is the durable store. It keeps an in-memory mirror of the world
// for apply semantics and reads, and persists every successful apply
// inside a single database transaction. On open the mirror is rebuilt
// from the database, so a crash between cycles loses nothing.
type SQLite struct {
	db *sql.DB

	mu sync.RWMutex
	w  *world
}

var _ Applier = (*SQLite)(nil)
var _ Reader = (*SQLite)(nil)

// OpenSQLite creates or opens a SQLite-backed world at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Idempotent - safe to call on an existing database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.loadWorld(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load world: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Apply stages the transaction on a copy of the mirror, persists the
// touched rows in one database transaction, then swaps the mirror. Any
// failure, semantic or durable, leaves both untouched.
func (s *SQLite) Apply(ctx context.Context, id ir.TransactionID, patches []ir.Patch) (*ApplyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.w.clone()
	staged.resetDirty()
	for i, p := range patches {
		if err := staged.apply(i, p); err != nil {
			return nil, err
		}
	}

	if err := s.persist(ctx, staged); err != nil {
		return nil, fmt.Errorf("persist transaction %s: %w", id, err)
	}
	s.w = staged

	return &ApplyReport{Transaction: id, Applied: len(patches)}, nil
}

// Entities returns every live entity, sorted by ref.
func (s *SQLite) Entities(ctx context.Context) ([]EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.entityRecords(), nil
}

// Layers returns every touched layer, sorted by id.
func (s *SQLite) Layers(ctx context.Context) ([]LayerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.layerRecords(), nil
}

// Assets returns every loaded asset, sorted by id.
func (s *SQLite) Assets(ctx context.Context) ([]AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.assetRecords(), nil
}

// ActiveCamera returns the active camera entity, or nil if none is set.
func (s *SQLite) ActiveCamera(ctx context.Context) (*ir.EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRef(s.w.camera), nil
}

// persist rewrites every dirty row inside one database transaction.
func (s *SQLite) persist(ctx context.Context, w *world) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for ref := range w.dirtyEntities {
		if err := persistEntity(ctx, tx, w, ref); err != nil {
			return err
		}
	}
	for id := range w.dirtyLayers {
		l := w.layers[id]
		props, err := ir.MarshalCanonical(l.properties)
		if err != nil {
			return fmt.Errorf("marshal layer %q: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO layers (id, active, properties) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET active = excluded.active, properties = excluded.properties
		`, id, boolToInt(l.active), string(props))
		if err != nil {
			return fmt.Errorf("write layer %q: %w", id, err)
		}
	}
	for id := range w.dirtyAssets {
		a, ok := w.assets[id]
		if !ok {
			if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
				return fmt.Errorf("delete asset %q: %w", id, err)
			}
			continue
		}
		data, err := ir.MarshalCanonical(a.data)
		if err != nil {
			return fmt.Errorf("marshal asset %q: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assets (id, path, asset_type, data) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				path = excluded.path, asset_type = excluded.asset_type, data = excluded.data
		`, id, a.path, a.assetType, string(data))
		if err != nil {
			return fmt.Errorf("write asset %q: %w", id, err)
		}
	}
	if w.dirtyCamera {
		if w.camera == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM world_meta WHERE key = 'active_camera'`); err != nil {
				return fmt.Errorf("clear active camera: %w", err)
			}
		} else {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO world_meta (key, value) VALUES ('active_camera', ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, w.camera.String())
			if err != nil {
				return fmt.Errorf("write active camera: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// persistEntity deletes then reinserts one entity's rows. A dirty ref
// with no live entity was destroyed; the delete alone suffices and the
// tag/component rows cascade.
func persistEntity(ctx context.Context, tx *sql.Tx, w *world, ref ir.EntityRef) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE namespace = ? AND local_id = ?`,
		string(ref.Namespace), ref.LocalID)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", ref, err)
	}

	e, ok := w.entities[ref]
	if !ok {
		return nil
	}

	var parentNS any
	var parentID any
	if e.parent != nil {
		parentNS, parentID = string(e.parent.Namespace), e.parent.LocalID
	}
	var camProjection, camTargetNS, camTargetID any
	if e.camera != nil {
		proj, err := ir.MarshalCanonical(e.camera.projection)
		if err != nil {
			return fmt.Errorf("marshal camera projection for %s: %w", ref, err)
		}
		camProjection = string(proj)
		if e.camera.target != nil {
			camTargetNS, camTargetID = string(e.camera.target.Namespace), e.camera.target.LocalID
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities
		(namespace, local_id, enabled, archetype, parent_ns, parent_id, order_index,
		 camera_projection, camera_target_ns, camera_target_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(ref.Namespace), ref.LocalID, boolToInt(e.enabled), e.archetype,
		parentNS, parentID, e.orderIndex,
		camProjection, camTargetNS, camTargetID)
	if err != nil {
		return fmt.Errorf("write entity %s: %w", ref, err)
	}

	for tag := range e.tags {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entity_tags (namespace, local_id, tag) VALUES (?, ?, ?)`,
			string(ref.Namespace), ref.LocalID, tag)
		if err != nil {
			return fmt.Errorf("write tag %q for %s: %w", tag, ref, err)
		}
	}
	for name, obj := range e.components {
		data, err := ir.MarshalCanonical(obj)
		if err != nil {
			return fmt.Errorf("marshal component %q for %s: %w", name, ref, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO components (namespace, local_id, name, data) VALUES (?, ?, ?, ?)`,
			string(ref.Namespace), ref.LocalID, name, string(data))
		if err != nil {
			return fmt.Errorf("write component %q for %s: %w", name, ref, err)
		}
	}
	return nil
}

// loadWorld rebuilds the in-memory mirror from the database.
func (s *SQLite) loadWorld() error {
	w := newWorld()
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, local_id, enabled, archetype, parent_ns, parent_id, order_index,
		       camera_projection, camera_target_ns, camera_target_id
		FROM entities
	`)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, archetype string
		var id uint64
		var enabled int
		var parentNS sql.NullString
		var parentID sql.NullInt64
		var orderIndex int
		var camProj, camTargetNS sql.NullString
		var camTargetID sql.NullInt64
		if err := rows.Scan(&ns, &id, &enabled, &archetype, &parentNS, &parentID, &orderIndex,
			&camProj, &camTargetNS, &camTargetID); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		e := &entityState{
			enabled:    enabled != 0,
			archetype:  archetype,
			orderIndex: orderIndex,
			tags:       make(map[string]bool),
			components: make(map[string]ir.Object),
		}
		if parentNS.Valid {
			e.parent = &ir.EntityRef{Namespace: ir.NamespaceID(parentNS.String), LocalID: uint64(parentID.Int64)}
		}
		if camProj.Valid || camTargetNS.Valid {
			e.camera = &cameraState{projection: ir.Object{}}
			if camProj.Valid {
				v, err := ir.UnmarshalValue([]byte(camProj.String))
				if err != nil {
					return fmt.Errorf("decode camera projection: %w", err)
				}
				e.camera.projection = v.(ir.Object)
			}
			if camTargetNS.Valid {
				e.camera.target = &ir.EntityRef{
					Namespace: ir.NamespaceID(camTargetNS.String),
					LocalID:   uint64(camTargetID.Int64),
				}
			}
		}
		w.entities[ir.EntityRef{Namespace: ir.NamespaceID(ns), LocalID: id}] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	if err := s.loadTags(ctx, w); err != nil {
		return err
	}
	if err := s.loadComponents(ctx, w); err != nil {
		return err
	}
	if err := s.loadLayers(ctx, w); err != nil {
		return err
	}
	if err := s.loadAssets(ctx, w); err != nil {
		return err
	}

	var camera string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM world_meta WHERE key = 'active_camera'`).Scan(&camera)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("load active camera: %w", err)
	default:
		ref, err := ir.ParseEntityRef(camera)
		if err != nil {
			return fmt.Errorf("load active camera: %w", err)
		}
		w.camera = &ref
	}

	s.w = w
	return nil
}

func (s *SQLite) loadTags(ctx context.Context, w *world) error {
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, local_id, tag FROM entity_tags`)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, tag string
		var id uint64
		if err := rows.Scan(&ns, &id, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if e := w.entities[ir.EntityRef{Namespace: ir.NamespaceID(ns), LocalID: id}]; e != nil {
			e.tags[tag] = true
		}
	}
	return rows.Err()
}

func (s *SQLite) loadComponents(ctx context.Context, w *world) error {
	rows, err := s.db.QueryContext(ctx, `SELECT namespace, local_id, name, data FROM components`)
	if err != nil {
		return fmt.Errorf("load components: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ns, name, data string
		var id uint64
		if err := rows.Scan(&ns, &id, &name, &data); err != nil {
			return fmt.Errorf("scan component: %w", err)
		}
		v, err := ir.UnmarshalValue([]byte(data))
		if err != nil {
			return fmt.Errorf("decode component %q: %w", name, err)
		}
		obj, ok := v.(ir.Object)
		if !ok {
			return fmt.Errorf("component %q: not an object", name)
		}
		if e := w.entities[ir.EntityRef{Namespace: ir.NamespaceID(ns), LocalID: id}]; e != nil {
			e.components[name] = obj
		}
	}
	return rows.Err()
}

func (s *SQLite) loadLayers(ctx context.Context, w *world) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, active, properties FROM layers`)
	if err != nil {
		return fmt.Errorf("load layers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, props string
		var active int
		if err := rows.Scan(&id, &active, &props); err != nil {
			return fmt.Errorf("scan layer: %w", err)
		}
		v, err := ir.UnmarshalValue([]byte(props))
		if err != nil {
			return fmt.Errorf("decode layer %q: %w", id, err)
		}
		obj, ok := v.(ir.Object)
		if !ok {
			return fmt.Errorf("layer %q: properties not an object", id)
		}
		w.layers[id] = &layerState{active: active != 0, properties: obj}
	}
	return rows.Err()
}

func (s *SQLite) loadAssets(ctx context.Context, w *world) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, asset_type, data FROM assets`)
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, path, assetType, data string
		if err := rows.Scan(&id, &path, &assetType, &data); err != nil {
			return fmt.Errorf("scan asset: %w", err)
		}
		v, err := ir.UnmarshalValue([]byte(data))
		if err != nil {
			return fmt.Errorf("decode asset %q: %w", id, err)
		}
		obj, ok := v.(ir.Object)
		if !ok {
			return fmt.Errorf("asset %q: data not an object", id)
		}
		w.assets[id] = &assetState{path: path, assetType: assetType, data: obj}
	}
	return rows.Err()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		// v1 folded camera state into the entities table. New databases
		// get the columns from schema.sql; nothing to backfill.
		version = 1
	}
	if version < 2 {
		// v2 added the archetype column. Fresh databases already have it
		// from schema.sql; only v1 databases need the ALTER.
		has, err := hasColumn(db, "entities", "archetype")
		if err != nil {
			return err
		}
		if !has {
			if _, err := db.Exec(`ALTER TABLE entities ADD COLUMN archetype TEXT NOT NULL DEFAULT ''`); err != nil {
				return fmt.Errorf("add archetype column: %w", err)
			}
		}
		version = 2
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// hasColumn reports whether a table already carries the named column.
func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
