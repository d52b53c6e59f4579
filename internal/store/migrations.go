package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: tiered memory records",
		SQL: `
CREATE TABLE memories (
    key            TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    content        TEXT NOT NULL,
    tier           INTEGER NOT NULL CHECK (tier BETWEEN 0 AND 3),
    importance     REAL NOT NULL DEFAULT 0 CHECK (importance BETWEEN 0 AND 1),
    decay_policy   TEXT NOT NULL CHECK (decay_policy IN ('never', 'superseded_only', 'active_age_window')),
    priority       TEXT NOT NULL CHECK (priority IN ('critical', 'high', 'medium', 'low')),
    category       TEXT NOT NULL,
    route          TEXT NOT NULL CHECK (route IN ('immediate', 'batch')),
    directive      TEXT,
    reasoning      TEXT,

    -- Access tracking
    access_count   INTEGER NOT NULL DEFAULT 0 CHECK (access_count >= 0),
    last_accessed  INTEGER,
    expires_at     INTEGER,

    indexed        INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,

    CHECK (tier != 0 OR expires_at IS NULL)
);

CREATE INDEX idx_memories_agent    ON memories(agent_id, created_at DESC);
CREATE INDEX idx_memories_category ON memories(category);
CREATE INDEX idx_memories_expires  ON memories(expires_at);
`,
	},
	{
		Version:     2,
		Description: "activity: per-agent activity calendar",
		SQL: `
CREATE TABLE activity (
    agent_id   TEXT NOT NULL,
    day        TEXT NOT NULL,
    events     INTEGER NOT NULL DEFAULT 0,
    first_seen INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL,
    PRIMARY KEY (agent_id, day)
);
`,
	},
	{
		Version:     3,
		Description: "promotions: tier promotion audit log",
		SQL: `
CREATE TABLE promotions (
    id           INTEGER PRIMARY KEY,
    memory_key   TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    old_tier     INTEGER NOT NULL,
    new_tier     INTEGER NOT NULL,
    access_count INTEGER NOT NULL,
    initiator    TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    CHECK (new_tier < old_tier)
);

CREATE INDEX idx_promotions_key ON promotions(memory_key);
`,
	},
	{
		Version:     4,
		Description: "graph: entities and relations for indexed memories",
		SQL: `
CREATE TABLE graph_entities (
    name         TEXT PRIMARY KEY,
    entity_type  TEXT NOT NULL,
    observations TEXT NOT NULL DEFAULT '[]',
    attributes   TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);

CREATE TABLE graph_relations (
    from_entity   TEXT NOT NULL,
    to_entity     TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    PRIMARY KEY (from_entity, to_entity, relation_type),
    FOREIGN KEY (from_entity) REFERENCES graph_entities(name) ON DELETE CASCADE,
    FOREIGN KEY (to_entity) REFERENCES graph_entities(name) ON DELETE CASCADE
);

CREATE INDEX idx_relations_to ON graph_relations(to_entity);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
