// Package index is the vector index collaborator. Records routed to full
// indexing are embedded into one chromem-go collection per agent.
package index

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

// Index wraps a chromem-go database.
type Index struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger
}

// Hit is a similarity search result.
type Hit struct {
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Tier       tier.Tier `json:"tier"`
	Category   string    `json:"category"`
	Similarity float32   `json:"similarity"`
}

// New opens an index. An empty path keeps everything in memory; otherwise
// collections persist as gob files under path.
func New(path string, compress bool, embedder Embedder, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("index: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("create index dir %s: %w", path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &Index{db: db, embedder: embedder, logger: logger}, nil
}

// Model names the embedder in use.
func (x *Index) Model() string { return x.embedder.Model() }

func (x *Index) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return x.embedder.Embed(ctx, text)
	}
}

// collectionName maps an agent id onto a safe collection name.
func collectionName(agentID string) string {
	var b strings.Builder
	b.WriteString("agent_")
	for _, r := range strings.ToLower(agentID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Add embeds and stores recs. Records are grouped by agent; re-adding a key
// overwrites it.
func (x *Index) Add(ctx context.Context, recs []model.Record) error {
	byAgent := make(map[string][]chromem.Document)
	for _, r := range recs {
		vec, err := x.embedder.Embed(ctx, r.Content)
		if err != nil {
			return fmt.Errorf("embed %s: %w", r.Key, err)
		}
		byAgent[r.AgentID] = append(byAgent[r.AgentID], chromem.Document{
			ID:      r.Key,
			Content: r.Content,
			Metadata: map[string]string{
				"agent_id": r.AgentID,
				"tier":     strconv.Itoa(int(r.Tier)),
				"category": r.Category,
				"priority": string(r.Priority),
			},
			Embedding: vec,
		})
	}

	for agentID, docs := range byAgent {
		col, err := x.db.GetOrCreateCollection(collectionName(agentID), nil, x.embedFunc())
		if err != nil {
			return fmt.Errorf("collection for %s: %w", agentID, err)
		}
		// Embeddings are precomputed, so one worker is enough.
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("add documents for %s: %w", agentID, err)
		}
		x.logger.Debug("indexed records",
			zap.String("agent_id", agentID),
			zap.Int("count", len(docs)),
		)
	}
	return nil
}

// Query returns up to k records of agentID most similar to text.
func (x *Index) Query(ctx context.Context, agentID, text string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	col := x.db.GetCollection(collectionName(agentID), x.embedFunc())
	if col == nil {
		return []Hit{}, nil
	}
	// chromem requires nResults <= document count
	n := col.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	if k > n {
		k = n
	}

	results, err := col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", agentID, err)
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		t, _ := strconv.Atoi(r.Metadata["tier"])
		hits[i] = Hit{
			Key:        r.ID,
			Content:    r.Content,
			Tier:       tier.Tier(t),
			Category:   r.Metadata["category"],
			Similarity: r.Similarity,
		}
	}
	return hits, nil
}

// Delete removes keys from the agent's collection. Unknown keys are ignored.
func (x *Index) Delete(ctx context.Context, agentID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	col := x.db.GetCollection(collectionName(agentID), x.embedFunc())
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, keys...); err != nil {
		return fmt.Errorf("delete from %s: %w", agentID, err)
	}
	return nil
}

// Count returns the number of indexed documents for agentID.
func (x *Index) Count(agentID string) int {
	col := x.db.GetCollection(collectionName(agentID), x.embedFunc())
	if col == nil {
		return 0
	}
	return col.Count()
}
