package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

const recordColumns = `key, agent_id, content, tier, importance, decay_policy, priority, category,
	route, directive, reasoning, access_count, last_accessed, expires_at, indexed, created_at`

// SaveRecord inserts rec, or replaces the mutable fields of an existing
// record with the same key. Content, importance and created_at never change
// once written.
func (db *DB) SaveRecord(ctx context.Context, rec *model.Record) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (`+recordColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			tier = excluded.tier,
			decay_policy = excluded.decay_policy,
			priority = excluded.priority,
			category = excluded.category,
			route = excluded.route,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed,
			expires_at = excluded.expires_at,
			indexed = excluded.indexed,
			updated_at = excluded.updated_at
	`, rec.Key, rec.AgentID, rec.Content, int(rec.Tier), rec.Importance,
		rec.DecayPolicy.String(), string(rec.Priority), rec.Category,
		string(rec.Route), rec.Directive, rec.Reasoning,
		rec.AccessCount, millis(rec.LastAccessed), millis(rec.ExpiresAt),
		boolInt(rec.Indexed), rec.CreatedAt.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.Key, err)
	}
	return nil
}

// GetRecord returns the record with key, or ErrNotFound.
func (db *DB) GetRecord(ctx context.Context, key string) (*model.Record, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("record %s: %w", key, ErrNotFound)
	}
	return &recs[0], nil
}

// DeleteRecord removes a record and its graph entity. Deleting a missing
// key is not an error.
func (db *DB) DeleteRecord(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM memories WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if err := db.DeleteEntity(ctx, key); err != nil {
		return fmt.Errorf("delete entity for %s: %w", key, err)
	}
	return nil
}

// UpdateAccess writes the access tracking fields of rec.
func (db *DB) UpdateAccess(ctx context.Context, rec *model.Record) error {
	res, err := db.ExecContext(ctx, `
		UPDATE memories SET access_count = ?, last_accessed = ?, expires_at = ?, updated_at = ?
		WHERE key = ?
	`, rec.AccessCount, millis(rec.LastAccessed), millis(rec.ExpiresAt), time.Now().UnixMilli(), rec.Key)
	if err != nil {
		return fmt.Errorf("update access %s: %w", rec.Key, err)
	}
	return expectOne(res, rec.Key)
}

// UpdateTier writes a promoted record's tier and derived fields.
func (db *DB) UpdateTier(ctx context.Context, rec *model.Record) error {
	res, err := db.ExecContext(ctx, `
		UPDATE memories SET tier = ?, decay_policy = ?, category = ?, priority = ?,
			access_count = ?, expires_at = ?, updated_at = ?
		WHERE key = ?
	`, int(rec.Tier), rec.DecayPolicy.String(), rec.Category, string(rec.Priority),
		rec.AccessCount, millis(rec.ExpiresAt), time.Now().UnixMilli(), rec.Key)
	if err != nil {
		return fmt.Errorf("update tier %s: %w", rec.Key, err)
	}
	return expectOne(res, rec.Key)
}

// MarkIndexed flags the given keys as fully indexed.
func (db *DB) MarkIndexed(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, time.Now().UnixMilli())
	for _, k := range keys {
		args = append(args, k)
	}
	query := fmt.Sprintf(`UPDATE memories SET indexed = 1, updated_at = ? WHERE key IN (%s)`, placeholders(len(keys)))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

// ListRecords returns every record owned by agentID, newest first.
func (db *DB) ListRecords(ctx context.Context, agentID string) ([]model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM memories WHERE agent_id = ?
		ORDER BY created_at DESC, key DESC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// PendingBatch returns batch-routed records that were never indexed, oldest
// first.
func (db *DB) PendingBatch(ctx context.Context, agentID string) ([]model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM memories
		WHERE agent_id = ? AND route = 'batch' AND indexed = 0
		ORDER BY created_at, key
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("pending batch: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByTier returns an agent's records in the given tiers, most accessed first.
func (db *DB) ByTier(ctx context.Context, agentID string, tiers ...tier.Tier) ([]model.Record, error) {
	if len(tiers) == 0 {
		return nil, nil
	}
	args := []any{agentID}
	for _, t := range tiers {
		args = append(args, int(t))
	}
	query := fmt.Sprintf(`
		SELECT `+recordColumns+` FROM memories
		WHERE agent_id = ? AND tier IN (%s)
		ORDER BY tier, access_count DESC, created_at DESC
	`, placeholders(len(tiers)))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("records by tier: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecentContents returns the content of the agent's newest records.
func (db *DB) RecentContents(ctx context.Context, agentID string, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT content FROM memories WHERE agent_id = ?
		ORDER BY created_at DESC, key DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent contents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestRecord returns the agent's most recently created record, or
// ErrNotFound.
func (db *DB) LatestRecord(ctx context.Context, agentID string) (*model.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM memories WHERE agent_id = ?
		ORDER BY created_at DESC, key DESC LIMIT 1
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("latest record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("latest record for %s: %w", agentID, ErrNotFound)
	}
	return &recs[0], nil
}

// Query filters a record search. Zero fields are ignored.
type Query struct {
	AgentID  string
	Keyword  string
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Search returns records matching q, newest first.
func (db *DB) Search(ctx context.Context, q Query) ([]model.Record, error) {
	var where []string
	var args []any
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Keyword != "" {
		where = append(where, "content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.Keyword)+"%")
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, q.Until.UnixMilli())
	}

	query := `SELECT ` + recordColumns + ` FROM memories`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, key DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Agents returns every agent id that owns a record or has logged activity.
func (db *DB) Agents(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id FROM memories
		UNION
		SELECT agent_id FROM activity
		ORDER BY agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TierCounts returns how many records the agent holds per tier.
func (db *DB) TierCounts(ctx context.Context, agentID string) (map[tier.Tier]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tier, COUNT(*) FROM memories WHERE agent_id = ? GROUP BY tier
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()

	out := make(map[tier.Tier]int, len(tier.All))
	for rows.Next() {
		var t, n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		out[tier.Tier(t)] = n
	}
	return out, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var recs []model.Record
	for rows.Next() {
		var r model.Record
		var t, indexed int
		var policy, priority, route string
		var directive, reasoning sql.NullString
		var lastAccessed, expiresAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&r.Key, &r.AgentID, &r.Content, &t, &r.Importance,
			&policy, &priority, &r.Category, &route, &directive, &reasoning,
			&r.AccessCount, &lastAccessed, &expiresAt, &indexed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Tier = tier.Tier(t)
		p, err := tier.ParsePolicy(policy)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key, err)
		}
		r.DecayPolicy = p
		r.Priority = model.Priority(priority)
		r.Route = model.Route(route)
		r.Directive = directive.String
		r.Reasoning = reasoning.String
		r.LastAccessed = fromMillis(lastAccessed)
		r.ExpiresAt = fromMillis(expiresAt)
		r.Indexed = indexed != 0
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func expectOne(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", key, ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
