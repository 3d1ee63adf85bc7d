// Package pubsub fans out conversion rule change events to subscribers.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/ritzau/unitconv/pkg/model"
)

// TopicConversions carries every change to the stored rule set
const TopicConversions = "conversions"

// Event types published on TopicConversions
const (
	EventRuleCreated   = "rule_created"
	EventRuleUpdated   = "rule_updated"
	EventRuleDeleted   = "rule_deleted"
	EventRulesImported = "rules_imported"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "conversions")
	Type    string          `json:"type"`    // Event type (e.g., "rule_created")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Per-topic sequence number
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data any) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// RuleChange is the payload of single rule events
type RuleChange struct {
	Rule         model.ConversionRule `json:"rule"`
	StoreVersion int64                `json:"storeVersion"`
}

// ImportSummary is the payload of EventRulesImported
type ImportSummary struct {
	Source       string `json:"source"` // "api", "seed", "cli"
	Accepted     int    `json:"accepted"`
	Skipped      int    `json:"skipped"`
	Rejected     int    `json:"rejected"`
	StoreVersion int64  `json:"storeVersion"`
}
