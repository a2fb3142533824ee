package types

import (
	"fmt"
	"time"
)

// Kind classifies what a memory item records.
type Kind string

const (
	// KindEpisodic is a record of something that happened (events,
	// interactions, observations).
	KindEpisodic Kind = "episodic"

	// KindSemantic is distilled knowledge (facts, summaries, conclusions).
	KindSemantic Kind = "semantic"

	// KindProcedural is how-to knowledge (learned procedures, strategies).
	KindProcedural Kind = "procedural"

	// KindWorking is transient task-scoped state.
	KindWorking Kind = "working"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the Kind is a valid enum value.
func (k Kind) IsValid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindWorking:
		return true
	default:
		return false
	}
}

// TierLevel identifies one of the four memory tiers. Higher levels hold
// longer-lived, more important memories.
type TierLevel int

const (
	TierWorking    TierLevel = 1 // in-process, minutes
	TierRecent     TierLevel = 2 // time-indexed log, hours
	TierSemantic   TierLevel = 3 // vector store, days to weeks
	TierPersistent TierLevel = 4 // durable relational store, indefinite
)

// String returns a short human-readable tier name.
func (l TierLevel) String() string {
	switch l {
	case TierWorking:
		return "working"
	case TierRecent:
		return "recent"
	case TierSemantic:
		return "semantic"
	case TierPersistent:
		return "persistent"
	default:
		return fmt.Sprintf("tier(%d)", int(l))
	}
}

// IsValid checks if the TierLevel is a valid enum value.
func (l TierLevel) IsValid() bool {
	return l >= TierWorking && l <= TierPersistent
}

// MemoryItem is the unit of memory shared by all four tiers. An item keeps
// the same ID everywhere it lives: promotion copies it upward, never moves
// or renames it.
type MemoryItem struct {
	// ID is unique across all tiers. Generated as a ULID when the caller
	// does not supply one.
	ID string `json:"id"`

	// Content is the memory text.
	Content string `json:"content"`

	// Kind classifies the memory.
	Kind Kind `json:"kind"`

	// CreatedAt is set on first write and never changes afterwards, even
	// when the same item is written again or promoted.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is refreshed on reads, best-effort.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount counts reads, best-effort.
	AccessCount int64 `json:"access_count"`

	// Importance is in [0,1]. For a given ID it only increases over time
	// unless a write explicitly overrides it downward.
	Importance float64 `json:"importance"`

	// Source names the module that produced the memory.
	Source string `json:"source,omitempty"`

	// TierOrigin is the highest tier currently holding the item.
	TierOrigin TierLevel `json:"tier_origin"`
}

// Validate checks the item's fields are usable for a write.
func (m *MemoryItem) Validate() error {
	if m.Content == "" {
		return NewError(MEMORY_ITEM_INVALID, "memory item content must not be empty")
	}
	if m.Kind != "" && !m.Kind.IsValid() {
		return NewError(MEMORY_ITEM_INVALID, fmt.Sprintf("invalid memory kind %q", m.Kind))
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewError(MEMORY_ITEM_INVALID,
			fmt.Sprintf("importance %.3f out of range [0,1]", m.Importance))
	}
	return nil
}

// Clone returns a deep copy of the item.
func (m *MemoryItem) Clone() MemoryItem {
	return *m
}

// Age returns how long ago the item was created.
func (m *MemoryItem) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}
