package db

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/sceneref/internal/ident"
	"github.com/udisondev/sceneref/internal/ref"
	"github.com/udisondev/sceneref/internal/scene"
)

// SceneRepository stores collection manifests.
// Only identifiers, instance ids and reference fields are persisted; live
// objects are rebuilt from the manifest on load.
type SceneRepository struct {
	pool *pgxpool.Pool
}

// NewSceneRepository создаёт новый SceneRepository.
func NewSceneRepository(pool *pgxpool.Pool) *SceneRepository {
	return &SceneRepository{pool: pool}
}

// StoredCollection is one row of List.
type StoredCollection struct {
	ID      ident.Identifier
	Name    string
	Objects int
	SavedAt time.Time
}

// Save replaces everything stored for m.Collection in a single transaction.
func (r *SceneRepository) Save(ctx context.Context, m *scene.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	key := m.Collection.String()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Каскад удаляет placements и object_refs.
	if _, err := tx.Exec(ctx, `DELETE FROM collections WHERE id = $1`, key); err != nil {
		return fmt.Errorf("clearing collection %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO collections (id, name, saved_at) VALUES ($1, $2, $3)`,
		key, m.Name, time.Now(),
	); err != nil {
		return fmt.Errorf("saving collection %s: %w", key, err)
	}

	if len(m.Objects) > 0 {
		batch := &pgx.Batch{}
		queued := 0
		for pos, obj := range m.Objects {
			var templateID *string
			if !obj.TemplateID.IsZero() {
				s := obj.TemplateID.String()
				templateID = &s
			}
			batch.Queue(
				`INSERT INTO placements (collection_id, position, name, instance_id, template, template_id)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				key, pos, obj.Name, int64(obj.InstanceID), obj.Template, templateID,
			)
			queued++
		}
		// refs идут после всех placements из-за внешнего ключа
		for pos, obj := range m.Objects {
			for _, field := range slices.Sorted(maps.Keys(obj.Refs)) {
				target := obj.Refs[field]
				batch.Queue(
					`INSERT INTO object_refs (collection_id, position, field, target_id, target_instance)
					 VALUES ($1, $2, $3, $4, $5)`,
					key, pos, field, target.Identifier.String(), int64(target.InstanceID),
				)
				queued++
			}
		}

		br := tx.SendBatch(ctx, batch)
		for range queued {
			if _, err := br.Exec(); err != nil {
				br.Close() //nolint:errcheck
				return fmt.Errorf("save placement batch for %s: %w", key, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close placement batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit collection %s: %w", key, err)
	}
	return nil
}

// Load reads the manifest stored for id.
// Returns ErrCollectionNotFound if nothing is stored.
func (r *SceneRepository) Load(ctx context.Context, id ident.Identifier) (*scene.Manifest, error) {
	key := id.String()

	m := &scene.Manifest{Collection: id}
	err := r.pool.QueryRow(ctx, `SELECT name FROM collections WHERE id = $1`, key).Scan(&m.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", key, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT position, name, instance_id, template, template_id
		 FROM placements WHERE collection_id = $1 ORDER BY position`, key)
	if err != nil {
		return nil, fmt.Errorf("querying placements of %s: %w", key, err)
	}
	defer rows.Close()

	m.Objects = make([]scene.ObjectEntry, 0, 32)
	index := make(map[int32]int, 32)
	for rows.Next() {
		var (
			pos        int32
			entry      scene.ObjectEntry
			instanceID int64
			templateID *string
		)
		if err := rows.Scan(&pos, &entry.Name, &instanceID, &entry.Template, &templateID); err != nil {
			return nil, fmt.Errorf("scanning placement row: %w", err)
		}
		entry.InstanceID = uint64(instanceID)
		if templateID != nil {
			if entry.TemplateID, err = ident.Parse(*templateID); err != nil {
				return nil, fmt.Errorf("placement %d of %s: %w", pos, key, err)
			}
		}
		index[pos] = len(m.Objects)
		m.Objects = append(m.Objects, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating placement rows: %w", err)
	}
	rows.Close()

	if err := r.loadRefs(ctx, key, m, index); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SceneRepository) loadRefs(ctx context.Context, key string, m *scene.Manifest, index map[int32]int) error {
	rows, err := r.pool.Query(ctx,
		`SELECT position, field, target_id, target_instance
		 FROM object_refs WHERE collection_id = $1`, key)
	if err != nil {
		return fmt.Errorf("querying refs of %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pos      int32
			field    string
			targetID string
			targetIn int64
		)
		if err := rows.Scan(&pos, &field, &targetID, &targetIn); err != nil {
			return fmt.Errorf("scanning ref row: %w", err)
		}
		target, err := ident.Parse(targetID)
		if err != nil {
			return fmt.Errorf("ref %q of placement %d: %w", field, pos, err)
		}
		i, ok := index[pos]
		if !ok {
			continue
		}
		obj := &m.Objects[i]
		if obj.Refs == nil {
			obj.Refs = make(map[string]ref.Reference, 4)
		}
		obj.Refs[field] = ref.Of(target, uint64(targetIn))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating ref rows: %w", err)
	}
	return nil
}

// List returns every stored collection ordered by id.
func (r *SceneRepository) List(ctx context.Context) ([]StoredCollection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, c.saved_at,
		        (SELECT COUNT(*) FROM placements p WHERE p.collection_id = c.id)
		 FROM collections c ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []StoredCollection
	for rows.Next() {
		var (
			key   string
			sc    StoredCollection
			count int64
		)
		if err := rows.Scan(&key, &sc.Name, &sc.SavedAt, &count); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		if sc.ID, err = ident.Parse(key); err != nil {
			return nil, fmt.Errorf("collection row: %w", err)
		}
		sc.Objects = int(count)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collection rows: %w", err)
	}
	return out, nil
}

// Delete removes a stored collection. Returns ErrCollectionNotFound if
// nothing was stored.
func (r *SceneRepository) Delete(ctx context.Context, id ident.Identifier) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return nil
}
