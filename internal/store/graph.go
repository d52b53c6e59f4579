package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

// EntityTierPolicy is the entity type of the per-tier policy nodes.
const EntityTierPolicy = "tier_policy"

// UpsertEntity creates an entity or merges new observations into it.
func (db *DB) UpsertEntity(ctx context.Context, e model.Entity) error {
	existing, err := db.GetEntity(ctx, e.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		seen := make(map[string]bool, len(existing.Observations))
		for _, o := range existing.Observations {
			seen[o] = true
		}
		for _, o := range e.Observations {
			if !seen[o] {
				existing.Observations = append(existing.Observations, o)
			}
		}
		for k, v := range e.Attributes {
			if existing.Attributes == nil {
				existing.Attributes = make(map[string]string)
			}
			existing.Attributes[k] = v
		}
		e = *existing
	}

	obs, err := json.Marshal(nonNil(e.Observations))
	if err != nil {
		return fmt.Errorf("marshal observations: %w", err)
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if e.Attributes == nil {
		attrs = []byte("{}")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO graph_entities (name, entity_type, observations, attributes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET observations = excluded.observations, attributes = excluded.attributes
	`, e.Name, e.Type, string(obs), string(attrs), created.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.Name, err)
	}
	return nil
}

// GetEntity returns an entity by name, or nil if not found.
func (db *DB) GetEntity(ctx context.Context, name string) (*model.Entity, error) {
	var e model.Entity
	var obs, attrs string
	var created int64
	err := db.QueryRowContext(ctx, `
		SELECT name, entity_type, observations, attributes, created_at FROM graph_entities WHERE name = ?
	`, name).Scan(&e.Name, &e.Type, &obs, &attrs, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if err := json.Unmarshal([]byte(obs), &e.Observations); err != nil {
		return nil, fmt.Errorf("decode observations of %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", name, err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	return &e, nil
}

// DeleteEntity removes an entity; its relations cascade.
func (db *DB) DeleteEntity(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM graph_entities WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete entity %s: %w", name, err)
	}
	return nil
}

// AddRelation links two existing entities. Duplicate relations are ignored.
func (db *DB) AddRelation(ctx context.Context, r model.Relation) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO graph_relations (from_entity, to_entity, relation_type, created_at)
		VALUES (?, ?, ?, ?)
	`, r.From, r.To, r.Type, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add relation %s -[%s]-> %s: %w", r.From, r.Type, r.To, err)
	}
	return nil
}

// DeleteRelations removes every relation of relType leaving from.
func (db *DB) DeleteRelations(ctx context.Context, from, relType string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM graph_relations WHERE from_entity = ? AND relation_type = ?
	`, from, relType)
	if err != nil {
		return fmt.Errorf("delete %s relations of %s: %w", relType, from, err)
	}
	return nil
}

// RelationsTo returns all relations pointing at name.
func (db *DB) RelationsTo(ctx context.Context, name string) ([]model.Relation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT from_entity, to_entity, relation_type FROM graph_relations
		WHERE to_entity = ? ORDER BY from_entity
	`, name)
	if err != nil {
		return nil, fmt.Errorf("relations to %s: %w", name, err)
	}
	defer rows.Close()

	var out []model.Relation
	for rows.Next() {
		var r model.Relation
		if err := rows.Scan(&r.From, &r.To, &r.Type); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EnsureTierPolicies creates one policy entity per tier if missing.
func (db *DB) EnsureTierPolicies(ctx context.Context) error {
	for _, t := range tier.All {
		name := model.PolicyEntityName(t)
		existing, err := db.GetEntity(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		retention := "unbounded"
		if days, ok := t.RetentionDays(); ok {
			retention = fmt.Sprintf("%d days", days)
		}
		err = db.UpsertEntity(ctx, model.Entity{
			Name: name,
			Type: EntityTierPolicy,
			Observations: []string{
				fmt.Sprintf("tier %d (%s)", int(t), t),
				"decay policy: " + t.Policy().String(),
				"base retention: " + retention,
			},
			Attributes: map[string]string{
				"tier":     t.String(),
				"policy":   t.Policy().String(),
				"category": t.Category(),
			},
		})
		if err != nil {
			return fmt.Errorf("create policy entity %s: %w", name, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
