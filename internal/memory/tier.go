package memory

import (
	"context"
	"sort"

	"github.com/AetharaAI/lotus/internal/types"
)

// Tier is the contract shared by all four memory tiers. Implementations
// must be safe for concurrent use.
type Tier interface {
	// Level identifies which tier this is.
	Level() types.TierLevel

	// Store writes an item into the tier. Storing an already present id is
	// idempotent; consolidation relies on that for safe re-promotion.
	Store(ctx context.Context, item types.MemoryItem) error

	// Retrieve returns items relevant to the query in tier-native order,
	// at most limit of them.
	Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error)

	// Get fetches a single item by id. The second return reports presence.
	Get(ctx context.Context, id string) (*types.MemoryItem, bool, error)

	// Delete removes an item by id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Health reports the tier's current health.
	Health(ctx context.Context) types.HealthStatus

	// Close releases the tier's resources.
	Close() error
}

// ScoredItem is a retrieval result: the item plus where it came from and,
// for the semantic tier, how similar it was to the query.
type ScoredItem struct {
	Item types.MemoryItem `json:"item"`

	// Tier is the tier that served this instance.
	Tier types.TierLevel `json:"tier"`

	// Similarity is cosine similarity to the query in [0,1]; zero for
	// tiers without embeddings.
	Similarity float64 `json:"similarity,omitempty"`

	// Score is the composite relevance score assigned by the retrieval
	// engine; tiers leave it zero.
	Score float64 `json:"score"`
}

// sortItemsByID orders items by id ascending. Ids are ULIDs, so this is
// creation order.
func sortItemsByID(items []types.MemoryItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
