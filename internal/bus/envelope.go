package bus

import (
	"strings"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// Envelope is the wire format for every event on the bus.
// The kernel enforces the envelope structure but never inspects Data beyond
// passing it through to subscribers.
type Envelope struct {
	Topic         string    `json:"topic"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Data          any       `json:"data"`
}

// NewEnvelope creates an Envelope stamped with the current time.
func NewEnvelope(topic, source string, data any) Envelope {
	return Envelope{
		Topic:     topic,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Validate checks the envelope has a well-formed topic and a source.
func (e *Envelope) Validate() error {
	if err := ValidateTopic(e.Topic); err != nil {
		return err
	}
	if e.Source == "" {
		return types.NewError(types.BUS_INVALID_TOPIC, "envelope source cannot be empty")
	}
	return nil
}

// ValidateTopic checks that a concrete (non-pattern) topic is well formed:
// dot-separated non-empty segments with no wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return types.NewError(types.BUS_INVALID_TOPIC, "topic cannot be empty")
	}
	for _, seg := range strings.Split(topic, ".") {
		if seg == "" {
			return types.NewError(types.BUS_INVALID_TOPIC, "topic contains an empty segment: "+topic)
		}
		if seg == "*" {
			return types.NewError(types.BUS_INVALID_TOPIC, "wildcards are only allowed in subscription patterns: "+topic)
		}
	}
	return nil
}

// ValidatePattern checks that a subscription pattern is well formed:
// dot-separated non-empty segments, where a segment may be the single-segment
// wildcard "*".
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return types.NewError(types.BUS_INVALID_PATTERN, "pattern cannot be empty")
	}
	for _, seg := range strings.Split(pattern, ".") {
		if seg == "" {
			return types.NewError(types.BUS_INVALID_PATTERN, "pattern contains an empty segment: "+pattern)
		}
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a subscription pattern.
// Patterns are compared segment by segment; "*" matches exactly one segment.
func MatchTopic(pattern, topic string) bool {
	patSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")

	if len(patSegs) != len(topicSegs) {
		return false
	}
	for i, ps := range patSegs {
		if ps == "*" {
			continue
		}
		if ps != topicSegs[i] {
			return false
		}
	}
	return true
}
