package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/AetharaAI/lotus/internal/memory/embedder"
	"github.com/AetharaAI/lotus/internal/types"
)

// SemanticTier stores memories by meaning: content is embedded on write and
// retrieval is cosine similarity over the query embedding, with a floor
// below which results are noise and dropped. There is no TTL; semantic
// memories persist until deleted.
//
// The vector store is chromem-go, an embedded pure-Go vector database. It
// has no by-id lookup, so the tier keeps its own id index alongside; the
// index is also where access bookkeeping lives.
type SemanticTier struct {
	db  *chromem.DB
	col *chromem.Collection
	emb embedder.Embedder

	floor   float64
	nowFunc func() time.Time

	mu    sync.RWMutex
	index map[string]*types.MemoryItem
}

// NewSemanticTier creates the semantic tier over the given embedder.
func NewSemanticTier(cfg SemanticConfig, emb embedder.Embedder) (*SemanticTier, error) {
	cfg.ApplyDefaults()

	db := chromem.NewDB()
	col, err := db.CreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, types.WrapError(types.TIER_UNAVAILABLE, "failed to create semantic collection", err)
	}

	return &SemanticTier{
		db:      db,
		col:     col,
		emb:     emb,
		floor:   cfg.SimilarityFloor,
		nowFunc: time.Now,
		index:   make(map[string]*types.MemoryItem),
	}, nil
}

// Level identifies the tier.
func (s *SemanticTier) Level() types.TierLevel { return types.TierSemantic }

// Store embeds and indexes an item. Re-storing an id with unchanged content
// skips the embedding entirely, so repeated promotion of the same item does
// no embedding work.
func (s *SemanticTier) Store(ctx context.Context, item types.MemoryItem) error {
	s.mu.RLock()
	existing, ok := s.index[item.ID]
	s.mu.RUnlock()
	if ok && existing.Content == item.Content {
		s.mu.Lock()
		if existing.Importance < item.Importance {
			existing.Importance = item.Importance
		}
		s.mu.Unlock()
		return nil
	}

	vec, err := s.emb.Embed(ctx, item.Content)
	if err != nil {
		return types.WrapError(types.EMBEDDING_FAILED, "semantic tier could not embed content", err)
	}

	doc := chromem.Document{
		ID:        item.ID,
		Content:   item.Content,
		Embedding: vec,
		Metadata: map[string]string{
			"kind":   string(item.Kind),
			"source": item.Source,
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return types.WrapError(types.TIER_UNAVAILABLE, "semantic tier store failed", err)
	}

	stored := item
	s.mu.Lock()
	s.index[item.ID] = &stored
	s.mu.Unlock()
	return nil
}

// Retrieve embeds the query and returns items at or above the similarity
// floor, most similar first.
func (s *SemanticTier) Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error) {
	if query == "" {
		return nil, nil
	}

	s.mu.RLock()
	total := len(s.index)
	s.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}
	// chromem rejects result counts above the collection size.
	n := limit
	if n <= 0 || n > total {
		n = total
	}

	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, types.WrapError(types.EMBEDDING_FAILED, "semantic tier could not embed query", err)
	}

	results, err := s.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, types.WrapError(types.TIER_UNAVAILABLE, "semantic tier query failed", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ScoredItem
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < s.floor {
			continue
		}
		item, ok := s.index[res.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredItem{
			Item:       *item,
			Tier:       types.TierSemantic,
			Similarity: sim,
		})
	}
	return out, nil
}

// Get fetches an item by id through the index and bumps access bookkeeping.
func (s *SemanticTier) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[id]
	if !ok {
		return nil, false, nil
	}
	item.AccessCount++
	item.LastAccessedAt = s.nowFunc()
	copied := *item
	return &copied, true, nil
}

// Has reports whether an id is present without touching bookkeeping.
func (s *SemanticTier) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Scan returns items with id > afterID in id order, for resumable
// consolidation scans.
func (s *SemanticTier) Scan(ctx context.Context, afterID string, batch int) ([]types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []types.MemoryItem
	for id, item := range s.index {
		if id > afterID {
			items = append(items, *item)
		}
	}
	sortItemsByID(items)
	if batch > 0 && len(items) > batch {
		items = items[:batch]
	}
	return items, nil
}

// Delete removes an item from the collection and the index.
func (s *SemanticTier) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.index[id]
	delete(s.index, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return types.WrapError(types.TIER_UNAVAILABLE, "semantic tier delete failed", err)
	}
	return nil
}

// Health reports the tier's health, including the embedder's.
func (s *SemanticTier) Health(ctx context.Context) types.HealthStatus {
	embHealth := s.emb.Health(ctx)
	if embHealth.IsUnhealthy() {
		return types.Unhealthyf("semantic tier embedder unhealthy: %s", embHealth.Message)
	}
	s.mu.RLock()
	n := len(s.index)
	s.mu.RUnlock()
	return types.Healthy(fmt.Sprintf("semantic tier ready, %d items", n))
}

// Close releases the tier. The vector store is in-memory; nothing to flush.
func (s *SemanticTier) Close() error {
	return nil
}
