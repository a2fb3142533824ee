package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// workingEntry wraps an item with its expiry and promotion state.
type workingEntry struct {
	item      types.MemoryItem
	expiresAt time.Time
	promoted  bool
}

// WorkingTier is the in-process hot tier: a mutex-guarded map with per-item
// TTL and an LRU cap. Important items that have not yet been promoted to
// the recent log survive their TTL; everything else expires silently.
type WorkingTier struct {
	mu          sync.RWMutex
	entries     map[string]*workingEntry
	ttl         time.Duration
	maxEntries  int
	expiryFloor float64
	nowFunc     func() time.Time
}

// NewWorkingTier creates the working tier.
func NewWorkingTier(cfg WorkingConfig, expiryFloor float64) *WorkingTier {
	cfg.ApplyDefaults()
	return &WorkingTier{
		entries:     make(map[string]*workingEntry),
		ttl:         cfg.TTL,
		maxEntries:  cfg.MaxEntries,
		expiryFloor: expiryFloor,
		nowFunc:     time.Now,
	}
}

// Level identifies the tier.
func (w *WorkingTier) Level() types.TierLevel { return types.TierWorking }

// Store writes an item. Re-storing an existing id keeps its original
// CreatedAt and refreshes the TTL.
func (w *WorkingTier) Store(ctx context.Context, item types.MemoryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	if existing, ok := w.entries[item.ID]; ok {
		item.CreatedAt = existing.item.CreatedAt
		item.AccessCount = existing.item.AccessCount
		existing.item = item
		existing.expiresAt = now.Add(w.ttl)
		return nil
	}

	w.sweepLocked(now)
	if len(w.entries) >= w.maxEntries {
		w.evictLocked()
	}

	w.entries[item.ID] = &workingEntry{
		item:      item,
		expiresAt: now.Add(w.ttl),
	}
	return nil
}

// Retrieve returns unexpired items whose content contains the query,
// newest first. An empty query matches everything.
func (w *WorkingTier) Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	now := w.nowFunc()
	needle := strings.ToLower(query)

	var matched []types.MemoryItem
	for _, e := range w.entries {
		if w.expiredLocked(e, now) {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(e.item.Content), needle) {
			matched = append(matched, e.item)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]ScoredItem, len(matched))
	for i, item := range matched {
		out[i] = ScoredItem{Item: item, Tier: types.TierWorking}
	}
	return out, nil
}

// Get fetches an unexpired item and bumps its access bookkeeping.
func (w *WorkingTier) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[id]
	if !ok {
		return nil, false, nil
	}
	now := w.nowFunc()
	if w.expiredLocked(e, now) {
		delete(w.entries, id)
		return nil, false, nil
	}

	e.item.AccessCount++
	e.item.LastAccessedAt = now
	item := e.item
	return &item, true, nil
}

// Touch bumps access bookkeeping without returning the item.
func (w *WorkingTier) Touch(ctx context.Context, id string) error {
	_, _, err := w.Get(ctx, id)
	return err
}

// Delete removes an item.
func (w *WorkingTier) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, id)
	return nil
}

// Scan returns unexpired items with id > afterID in id order, at most batch
// of them. Ids are ULIDs, so id order is creation order; the consolidator
// uses this for resumable scans.
func (w *WorkingTier) Scan(ctx context.Context, afterID string, batch int) ([]types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	now := w.nowFunc()
	var items []types.MemoryItem
	for _, e := range w.entries {
		if w.expiredLocked(e, now) || e.item.ID <= afterID {
			continue
		}
		items = append(items, e.item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if batch > 0 && len(items) > batch {
		items = items[:batch]
	}
	return items, nil
}

// MarkPromoted records that an item now exists in the recent log, which
// releases it for expiry regardless of importance.
func (w *WorkingTier) MarkPromoted(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok {
		e.promoted = true
	}
}

// Len returns the number of unexpired entries.
func (w *WorkingTier) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	now := w.nowFunc()
	n := 0
	for _, e := range w.entries {
		if !w.expiredLocked(e, now) {
			n++
		}
	}
	return n
}

// Health reports the tier's health; an in-process map has no failure modes
// worth probing beyond existing.
func (w *WorkingTier) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("working tier ready")
}

// Close clears the tier.
func (w *WorkingTier) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[string]*workingEntry)
	return nil
}

// expiredLocked reports whether an entry should be treated as gone. Items
// at or above the expiry floor outlive their TTL until promotion copies
// them to the recent log; below the floor they expire silently.
func (w *WorkingTier) expiredLocked(e *workingEntry, now time.Time) bool {
	if now.Before(e.expiresAt) {
		return false
	}
	return e.item.Importance < w.expiryFloor || e.promoted
}

// sweepLocked drops expired entries.
func (w *WorkingTier) sweepLocked(now time.Time) {
	for id, e := range w.entries {
		if w.expiredLocked(e, now) {
			delete(w.entries, id)
		}
	}
}

// evictLocked removes the least recently accessed entry to make room.
// Equal access times fall back to the lowest id so eviction order does not
// depend on map iteration order.
func (w *WorkingTier) evictLocked() {
	var victim string
	var oldest time.Time
	for id, e := range w.entries {
		at := e.item.LastAccessedAt
		if at.IsZero() {
			at = e.item.CreatedAt
		}
		if victim == "" || at.Before(oldest) || (at.Equal(oldest) && id < victim) {
			victim = id
			oldest = at
		}
	}
	if victim != "" {
		delete(w.entries, victim)
	}
}
