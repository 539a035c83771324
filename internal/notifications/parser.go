package notifications

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sellerpulse/pricewatch/internal/pricing"
)

// ParseError marks a message body we could not interpret. Parse errors are
// poison-message material: contained via the failure ledger, not retried
// forever.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse notification: " + e.Reason
}

// snsEnvelope is the generic pub/sub wrapper SNS puts around the domain
// event when raw message delivery is off.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type notificationDoc struct {
	NotificationType string          `json:"notificationType"`
	EventTime        string          `json:"eventTime"`
	Payload          json.RawMessage `json:"payload"`
}

type moneyDoc struct {
	Amount float64 `json:"amount"`
}

type offerDoc struct {
	SellerID         string   `json:"sellerId"`
	ListingPrice     moneyDoc `json:"listingPrice"`
	Shipping         moneyDoc `json:"shipping"`
	IsBuyBoxWinner   bool     `json:"isBuyBoxWinner"`
	PrimeInformation struct {
		IsPrime bool `json:"isPrime"`
	} `json:"primeInformation"`
}

type offerChangeTrigger struct {
	MarketplaceID     string `json:"marketplaceId"`
	ASIN              string `json:"asin"`
	TimeOfOfferChange string `json:"timeOfOfferChange"`
}

// anyOfferChangedPayload nests the trigger and offer list one level down.
type anyOfferChangedPayload struct {
	AnyOfferChangedNotification struct {
		SellerID string             `json:"sellerId"`
		Trigger  offerChangeTrigger `json:"offerChangeTrigger"`
		Offers   []offerDoc         `json:"offers"`
	} `json:"anyOfferChangedNotification"`
}

// pricingHealthPayload nests the same trigger under a different key and
// carries no offer list.
type pricingHealthPayload struct {
	PricingHealthNotification struct {
		SellerID string             `json:"sellerId"`
		Trigger  offerChangeTrigger `json:"offerChangeTrigger"`
	} `json:"pricingHealthNotification"`
}

// DedupeHash returns the idempotency key for a raw message body: a SHA-256
// over the raw, pre-unwrap bytes, so byte-identical redeliveries always
// collide regardless of envelope variations.
func DedupeHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Parse unwraps and decodes a raw queue message body into an Event.
// Pure function, no I/O. Unknown or malformed shapes return *ParseError.
func Parse(messageID, body string) (*Event, error) {
	hash := DedupeHash(body)

	inner := body
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("body is not JSON: %v", err)}
	}
	// unwrap exactly one envelope level
	if env.Type == "Notification" && env.Message != "" {
		inner = env.Message
	}

	var doc notificationDoc
	if err := json.Unmarshal([]byte(inner), &doc); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("event is not JSON: %v", err)}
	}

	ev := &Event{
		MessageID:  messageID,
		DedupeHash: hash,
		EventType:  doc.NotificationType,
		RawPayload: body,
	}

	switch doc.NotificationType {
	case TypeAnyOfferChanged:
		var p anyOfferChangedPayload
		if err := json.Unmarshal(doc.Payload, &p); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("offer-change payload: %v", err)}
		}
		n := p.AnyOfferChangedNotification
		if n.Trigger.ASIN == "" {
			return nil, &ParseError{Reason: "offer-change payload missing asin"}
		}
		ev.ASIN = n.Trigger.ASIN
		ev.MarketplaceID = n.Trigger.MarketplaceID
		ev.EventTime = parseEventTime(n.Trigger.TimeOfOfferChange, doc.EventTime)
		ev.Offers = make([]pricing.Offer, 0, len(n.Offers))
		for _, o := range n.Offers {
			ev.Offers = append(ev.Offers, pricing.Offer{
				SellerID:       o.SellerID,
				ListingPrice:   o.ListingPrice.Amount,
				Shipping:       o.Shipping.Amount,
				IsPrime:        o.PrimeInformation.IsPrime,
				IsBuyBoxWinner: o.IsBuyBoxWinner,
			})
		}
		return ev, nil

	case TypePricingHealth:
		var p pricingHealthPayload
		if err := json.Unmarshal(doc.Payload, &p); err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("pricing-health payload: %v", err)}
		}
		n := p.PricingHealthNotification
		if n.Trigger.ASIN == "" {
			return nil, &ParseError{Reason: "pricing-health payload missing asin"}
		}
		ev.ASIN = n.Trigger.ASIN
		ev.MarketplaceID = n.Trigger.MarketplaceID
		ev.EventTime = parseEventTime(n.Trigger.TimeOfOfferChange, doc.EventTime)
		return ev, nil

	default:
		if doc.NotificationType == "" {
			return nil, &ParseError{Reason: "missing notificationType"}
		}
		return nil, &ParseError{Reason: "unknown notificationType " + doc.NotificationType}
	}
}

// parseEventTime prefers the trigger timestamp, falls back to the
// document-level one, and finally to the zero time (callers treat zero as
// "older than anything stored").
func parseEventTime(trigger, fallback string) time.Time {
	for _, s := range []string{trigger, fallback} {
		if s == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
