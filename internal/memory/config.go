package memory

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/AetharaAI/lotus/internal/memory/embedder"
	"github.com/AetharaAI/lotus/internal/types"
)

// Config is the top-level memory configuration covering all four tiers,
// write routing, consolidation, and retrieval scoring.
type Config struct {
	// DataDir is where the tier database files live.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`

	Working       WorkingConfig       `mapstructure:"working" yaml:"working" json:"working"`
	Recent        RecentConfig        `mapstructure:"recent" yaml:"recent" json:"recent"`
	Semantic      SemanticConfig      `mapstructure:"semantic" yaml:"semantic" json:"semantic"`
	Persistent    PersistentConfig    `mapstructure:"persistent" yaml:"persistent" json:"persistent"`
	Routing       RoutingConfig       `mapstructure:"routing" yaml:"routing" json:"routing"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation" yaml:"consolidation" json:"consolidation"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval" yaml:"retrieval" json:"retrieval"`
	Embedder      embedder.Config     `mapstructure:"embedder" yaml:"embedder" json:"embedder"`
}

// ApplyDefaults applies default values to unset fields across all sections.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	c.Working.ApplyDefaults()
	c.Recent.ApplyDefaults()
	c.Semantic.ApplyDefaults()
	c.Persistent.ApplyDefaults()
	c.Routing.ApplyDefaults()
	c.Consolidation.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Embedder.ApplyDefaults()

	if c.Recent.Path == "" {
		c.Recent.Path = filepath.Join(c.DataDir, "recent.db")
	}
	if c.Persistent.Path == "" {
		c.Persistent.Path = filepath.Join(c.DataDir, "persistent.db")
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"working", c.Working.Validate},
		{"recent", c.Recent.Validate},
		{"semantic", c.Semantic.Validate},
		{"persistent", c.Persistent.Validate},
		{"routing", c.Routing.Validate},
		{"consolidation", c.Consolidation.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"embedder", c.Embedder.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return types.WrapError(types.CONFIG_VALIDATION_FAILED,
				s.name+" memory config validation failed", err)
		}
	}
	return nil
}

// WorkingConfig configures the in-process working tier.
type WorkingConfig struct {
	// TTL is how long an item stays readable after its last write.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`

	// MaxEntries caps the tier; the least recently accessed item is
	// evicted when a write would exceed it.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
}

// ApplyDefaults applies default values to unset fields.
func (c *WorkingConfig) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = 10 * time.Minute
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 4096
	}
}

// Validate performs validation on the WorkingConfig.
func (c *WorkingConfig) Validate() error {
	if c.TTL <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("working ttl must be positive, got %s", c.TTL))
	}
	if c.MaxEntries <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("working max_entries must be positive, got %d", c.MaxEntries))
	}
	return nil
}

// RecentConfig configures the time-indexed recent log tier.
type RecentConfig struct {
	// Path is the SQLite file; derived from DataDir when empty.
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// TTL is how long rows stay readable.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`

	// PurgeInterval is how often expired rows are physically deleted.
	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval" json:"purge_interval"`
}

// ApplyDefaults applies default values to unset fields.
func (c *RecentConfig) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = time.Hour
	}
}

// Validate performs validation on the RecentConfig.
func (c *RecentConfig) Validate() error {
	if c.TTL <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("recent ttl must be positive, got %s", c.TTL))
	}
	return nil
}

// SemanticConfig configures the vector tier.
type SemanticConfig struct {
	// Collection names the vector collection.
	Collection string `mapstructure:"collection" yaml:"collection" json:"collection"`

	// SimilarityFloor filters results below this cosine similarity.
	SimilarityFloor float64 `mapstructure:"similarity_floor" yaml:"similarity_floor" json:"similarity_floor"`
}

// ApplyDefaults applies default values to unset fields.
func (c *SemanticConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "semantic_memory"
	}
	if c.SimilarityFloor == 0 {
		c.SimilarityFloor = 0.3
	}
}

// Validate performs validation on the SemanticConfig.
func (c *SemanticConfig) Validate() error {
	if c.SimilarityFloor < 0 || c.SimilarityFloor > 1 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("semantic similarity_floor must be in [0,1], got %.3f", c.SimilarityFloor))
	}
	return nil
}

// PersistentConfig configures the durable relational tier.
type PersistentConfig struct {
	// Path is the SQLite file; derived from DataDir when empty.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// ApplyDefaults applies default values to unset fields.
func (c *PersistentConfig) ApplyDefaults() {}

// Validate performs validation on the PersistentConfig.
func (c *PersistentConfig) Validate() error { return nil }

// RoutingConfig holds the importance thresholds that decide which tiers a
// write reaches. The working and recent tiers always receive every write.
type RoutingConfig struct {
	// SemanticThreshold is the minimum importance for a write to reach the
	// semantic tier.
	SemanticThreshold float64 `mapstructure:"semantic_threshold" yaml:"semantic_threshold" json:"semantic_threshold"`

	// PersistentThreshold is the minimum importance for a write to reach
	// the persistent tier.
	PersistentThreshold float64 `mapstructure:"persistent_threshold" yaml:"persistent_threshold" json:"persistent_threshold"`

	// ExpiryFloor is the importance at or above which working/recent items
	// must not silently expire without having been consolidated.
	ExpiryFloor float64 `mapstructure:"expiry_floor" yaml:"expiry_floor" json:"expiry_floor"`
}

// ApplyDefaults applies default values to unset fields.
func (c *RoutingConfig) ApplyDefaults() {
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = 0.5
	}
	if c.PersistentThreshold == 0 {
		c.PersistentThreshold = 0.8
	}
	if c.ExpiryFloor == 0 {
		c.ExpiryFloor = 0.3
	}
}

// Validate performs validation on the RoutingConfig.
func (c *RoutingConfig) Validate() error {
	for name, v := range map[string]float64{
		"semantic_threshold":   c.SemanticThreshold,
		"persistent_threshold": c.PersistentThreshold,
		"expiry_floor":         c.ExpiryFloor,
	} {
		if v < 0 || v > 1 {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("routing %s must be in [0,1], got %.3f", name, v))
		}
	}
	if c.SemanticThreshold > c.PersistentThreshold {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"routing semantic_threshold must not exceed persistent_threshold")
	}
	return nil
}

// ConsolidationConfig configures the background promotion cycle.
type ConsolidationConfig struct {
	// Interval is how often a consolidation cycle runs.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// PromotionAge is how old a working item must be before promotion to
	// the recent log.
	PromotionAge time.Duration `mapstructure:"promotion_age" yaml:"promotion_age" json:"promotion_age"`

	// SemanticAge is how old a recent item must be before promotion to the
	// semantic tier.
	SemanticAge time.Duration `mapstructure:"semantic_age" yaml:"semantic_age" json:"semantic_age"`

	// BatchSize bounds one stage's scan between cancellation checks.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
}

// ApplyDefaults applies default values to unset fields.
func (c *ConsolidationConfig) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Minute
	}
	if c.PromotionAge == 0 {
		c.PromotionAge = 10 * time.Minute
	}
	if c.SemanticAge == 0 {
		c.SemanticAge = 24 * time.Hour
	}
	if c.BatchSize == 0 {
		c.BatchSize = 256
	}
}

// Validate performs validation on the ConsolidationConfig.
func (c *ConsolidationConfig) Validate() error {
	if c.Interval <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("consolidation interval must be positive, got %s", c.Interval))
	}
	if c.BatchSize <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("consolidation batch_size must be positive, got %d", c.BatchSize))
	}
	return nil
}

// ScoreWeights are the composite relevance score coefficients.
type ScoreWeights struct {
	Importance float64 `mapstructure:"importance" yaml:"importance" json:"importance"`
	Recency    float64 `mapstructure:"recency" yaml:"recency" json:"recency"`
	Frequency  float64 `mapstructure:"frequency" yaml:"frequency" json:"frequency"`
	Similarity float64 `mapstructure:"similarity" yaml:"similarity" json:"similarity"`
}

// RetrievalConfig configures the cross-tier retrieval engine.
type RetrievalConfig struct {
	// TierTimeout bounds each tier's query during fan-out.
	TierTimeout time.Duration `mapstructure:"tier_timeout" yaml:"tier_timeout" json:"tier_timeout"`

	// DefaultLimit is the result count when the caller does not set one.
	DefaultLimit int `mapstructure:"default_limit" yaml:"default_limit" json:"default_limit"`

	// Weights are the composite score coefficients.
	Weights ScoreWeights `mapstructure:"weights" yaml:"weights" json:"weights"`

	// RecencyHalfLife is the age at which the recency component halves.
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life" yaml:"recency_half_life" json:"recency_half_life"`
}

// ApplyDefaults applies default values to unset fields.
func (c *RetrievalConfig) ApplyDefaults() {
	if c.TierTimeout == 0 {
		c.TierTimeout = 5 * time.Second
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 20
	}
	zero := ScoreWeights{}
	if c.Weights == zero {
		c.Weights = ScoreWeights{Importance: 0.3, Recency: 0.3, Frequency: 0.2, Similarity: 0.2}
	}
	if c.RecencyHalfLife == 0 {
		c.RecencyHalfLife = 7 * 24 * time.Hour
	}
}

// Validate performs validation on the RetrievalConfig.
func (c *RetrievalConfig) Validate() error {
	if c.TierTimeout <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("retrieval tier_timeout must be positive, got %s", c.TierTimeout))
	}
	if c.DefaultLimit <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("retrieval default_limit must be positive, got %d", c.DefaultLimit))
	}
	for name, w := range map[string]float64{
		"importance": c.Weights.Importance,
		"recency":    c.Weights.Recency,
		"frequency":  c.Weights.Frequency,
		"similarity": c.Weights.Similarity,
	} {
		if w < 0 {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("retrieval weight %s must be non-negative, got %.3f", name, w))
		}
	}
	if c.RecencyHalfLife <= 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("retrieval recency_half_life must be positive, got %s", c.RecencyHalfLife))
	}
	return nil
}
