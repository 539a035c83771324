package notifications

import (
	"time"

	"github.com/sellerpulse/pricewatch/internal/pricing"
)

// Notification lifecycle statuses
const (
	StatusNew        = "NEW"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Known notification types
const (
	TypeAnyOfferChanged = "ANY_OFFER_CHANGED"
	TypePricingHealth   = "PRICING_HEALTH"
)

// Event is a parsed, normalized queue notification.
type Event struct {
	MessageID     string
	DedupeHash    string
	ASIN          string
	MarketplaceID string
	EventType     string
	EventTime     time.Time
	RawPayload    string
	// Offers is populated for offer-change events only.
	Offers []pricing.Offer
}

// Record is the shape persisted in the worker_notifications table.
// The dedupe hash is the primary key: byte-identical redeliveries land on
// the same row no matter what message id the queue assigned them.
type Record struct {
	DedupeHash    string     `dynamodbav:"dedupe_hash"` // PK
	MessageID     string     `dynamodbav:"message_id"`
	ASIN          string     `dynamodbav:"asin"`
	MarketplaceID string     `dynamodbav:"marketplace_id"`
	EventType     string     `dynamodbav:"event_type"`
	EventTime     time.Time  `dynamodbav:"event_time"`
	Status        string     `dynamodbav:"status"`
	RawPayload    string     `dynamodbav:"raw_payload,omitempty"`
	ReceivedAt    time.Time  `dynamodbav:"received_at"`
	ProcessedAt   *time.Time `dynamodbav:"processed_at,omitempty"`
}
