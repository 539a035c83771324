package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sellerpulse/pricewatch/internal/failures"
	"github.com/sellerpulse/pricewatch/internal/notifications"
	"github.com/sellerpulse/pricewatch/internal/pricing"
	"github.com/sellerpulse/pricewatch/internal/state"
)

const sellerID = "A1SELLERYOU"

// --- in-memory store fakes ---

type memNotifications struct {
	mu   sync.Mutex
	rows map[string]*notifications.Record
}

func newMemNotifications() *memNotifications {
	return &memNotifications{rows: map[string]*notifications.Record{}}
}

func (m *memNotifications) Create(ctx context.Context, ev *notifications.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[ev.DedupeHash]; ok {
		return false, nil
	}
	m.rows[ev.DedupeHash] = &notifications.Record{
		DedupeHash:    ev.DedupeHash,
		MessageID:     ev.MessageID,
		ASIN:          ev.ASIN,
		MarketplaceID: ev.MarketplaceID,
		EventType:     ev.EventType,
		EventTime:     ev.EventTime,
		Status:        notifications.StatusNew,
	}
	return true, nil
}

func (m *memNotifications) Get(ctx context.Context, hash string) (*notifications.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[hash]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memNotifications) SetStatus(ctx context.Context, hash, expected, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[hash]
	if !ok || r.Status != expected {
		return notifications.ErrStatusMismatch
	}
	r.Status = next
	return nil
}

func (m *memNotifications) MarkProcessed(ctx context.Context, hash, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[hash]
	if !ok {
		return fmt.Errorf("no row for %s", hash)
	}
	r.Status = status
	return nil
}

type memState struct {
	mu       sync.Mutex
	rows     map[string]pricing.Snapshot
	upserts  int
	failWith error
}

func newMemState() *memState {
	return &memState{rows: map[string]pricing.Snapshot{}}
}

func (m *memState) Upsert(ctx context.Context, snap pricing.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	key := snap.ASIN + "|" + snap.MarketplaceID
	if existing, ok := m.rows[key]; ok && !snap.LastUpdated.After(existing.LastUpdated) {
		return state.ErrStaleEvent
	}
	m.rows[key] = snap
	m.upserts++
	return nil
}

type memLedger struct {
	mu      sync.Mutex
	records []failures.Failure
}

func (m *memLedger) Record(ctx context.Context, f failures.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, f)
	return nil
}

func newTestProcessor() (*Processor, *memNotifications, *memState, *memLedger) {
	ns := newMemNotifications()
	ss := newMemState()
	fl := &memLedger{}
	p := NewProcessor(ns, ss, fl, nil, sellerID, 3)
	return p, ns, ss, fl
}

func offerChangeBody(yourPrice float64, eventTime time.Time) string {
	return fmt.Sprintf(`{
	  "notificationType": "ANY_OFFER_CHANGED",
	  "payload": {
	    "anyOfferChangedNotification": {
	      "sellerId": %q,
	      "offerChangeTrigger": {
	        "marketplaceId": "A1PA6795UKMFR9",
	        "asin": "B00TEST001",
	        "timeOfOfferChange": %q
	      },
	      "offers": [
	        {"sellerId": %q, "listingPrice": {"amount": %.2f}, "shipping": {"amount": 0}},
	        {"sellerId": "A2COMPX", "listingPrice": {"amount": 9.00}, "shipping": {"amount": 0}, "isBuyBoxWinner": true}
	      ]
	    }
	  }
	}`, sellerID, eventTime.Format(time.RFC3339), sellerID, yourPrice)
}

// --- test cases ---

func TestProcessMessagePipeline(t *testing.T) {
	p, ns, ss, _ := newTestProcessor()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	deleteMsg, err := p.ProcessMessage(ctx, "msg-1", offerChangeBody(12.00, ts), 1)
	if err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("successful pipeline must delete the message")
	}

	if len(ns.rows) != 1 {
		t.Fatalf("notification rows = %d, want 1", len(ns.rows))
	}
	for _, r := range ns.rows {
		if r.Status != notifications.StatusCompleted {
			t.Fatalf("status = %s, want %s", r.Status, notifications.StatusCompleted)
		}
	}

	snap, ok := ss.rows["B00TEST001|A1PA6795UKMFR9"]
	if !ok {
		t.Fatalf("no current state row written")
	}
	if snap.Severity != pricing.SeverityWarning {
		t.Fatalf("severity = %s, want %s", snap.Severity, pricing.SeverityWarning)
	}
	if snap.SourceDedupeHash == "" {
		t.Fatalf("snapshot missing source hash")
	}
}

func TestProcessMessageIdempotent(t *testing.T) {
	p, ns, ss, _ := newTestProcessor()
	ctx := context.Background()
	body := offerChangeBody(12.00, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	if _, err := p.ProcessMessage(ctx, "msg-1", body, 1); err != nil {
		t.Fatalf("first ProcessMessage error: %v", err)
	}
	// byte-identical redelivery with a fresh queue message id
	deleteMsg, err := p.ProcessMessage(ctx, "msg-2", body, 2)
	if err != nil {
		t.Fatalf("redelivered ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("duplicate of a completed notification must be deleted")
	}

	if len(ns.rows) != 1 {
		t.Fatalf("notification rows = %d, want exactly 1", len(ns.rows))
	}
	if ss.upserts != 1 {
		t.Fatalf("state mutations = %d, want exactly 1", ss.upserts)
	}
}

func TestProcessMessageOutOfOrder(t *testing.T) {
	p, _, ss, _ := newTestProcessor()
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(-5 * time.Minute) // older event arriving second

	if _, err := p.ProcessMessage(ctx, "msg-1", offerChangeBody(12.00, t1), 1); err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	deleteMsg, err := p.ProcessMessage(ctx, "msg-2", offerChangeBody(20.00, t2), 1)
	if err != nil {
		t.Fatalf("stale ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("stale events still complete, not retry")
	}

	snap := ss.rows["B00TEST001|A1PA6795UKMFR9"]
	if snap.YourPrice == nil || *snap.YourPrice != 12.00 {
		t.Fatalf("stale event clobbered newer data: your price = %v", snap.YourPrice)
	}
	if !snap.LastUpdated.Equal(t1) {
		t.Fatalf("last updated = %v, want %v", snap.LastUpdated, t1)
	}
}

func TestProcessMessagePoisonContainment(t *testing.T) {
	p, ns, _, fl := newTestProcessor()
	ctx := context.Background()

	// within the retry budget the message stays on the queue
	deleteMsg, err := p.ProcessMessage(ctx, "msg-1", "not json", 1)
	if err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	if deleteMsg {
		t.Fatalf("parse failure within budget must not delete")
	}

	// budget exhausted: contained, deleted anyway
	deleteMsg, err = p.ProcessMessage(ctx, "msg-1", "not json", 3)
	if err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("poison message must be deleted after the retry budget")
	}

	if len(ns.rows) != 0 {
		t.Fatalf("notification rows = %d, want 0 for unparseable body", len(ns.rows))
	}
	if len(fl.records) != 2 {
		t.Fatalf("failure records = %d, want 2", len(fl.records))
	}
	if fl.records[0].ErrorKind != failures.KindParse {
		t.Fatalf("error kind = %s, want %s", fl.records[0].ErrorKind, failures.KindParse)
	}
	// both attempts key to the same logical event
	if fl.records[0].DedupeHash != fl.records[1].DedupeHash {
		t.Fatalf("poison attempts must share a dedupe hash")
	}
}

func TestProcessMessageFailedAfterRetryBudget(t *testing.T) {
	p, ns, ss, fl := newTestProcessor()
	ctx := context.Background()
	ss.failWith = errors.New("dynamo unavailable")
	body := offerChangeBody(12.00, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// within the budget the row is released back for redelivery
	deleteMsg, err := p.ProcessMessage(ctx, "msg-1", body, 1)
	if err == nil {
		t.Fatalf("expected error from failing state store")
	}
	if deleteMsg {
		t.Fatalf("store failure within budget must not delete")
	}
	for _, r := range ns.rows {
		if r.Status != notifications.StatusNew {
			t.Fatalf("status after release = %s, want %s", r.Status, notifications.StatusNew)
		}
	}

	// budget exhausted: row goes terminal, message is deleted
	deleteMsg, err = p.ProcessMessage(ctx, "msg-1", body, 3)
	if err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("exhausted message must be deleted")
	}
	for _, r := range ns.rows {
		if r.Status != notifications.StatusFailed {
			t.Fatalf("status = %s, want %s", r.Status, notifications.StatusFailed)
		}
	}
	if len(fl.records) != 2 || fl.records[0].ErrorKind != failures.KindTransientStore {
		t.Fatalf("failure records = %+v, want 2 transient_store entries", fl.records)
	}

	// later duplicates of a failed notification are terminal no-ops
	deleteMsg, err = p.ProcessMessage(ctx, "msg-1", body, 4)
	if err != nil {
		t.Fatalf("duplicate after failed: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("duplicate of a failed notification must be deleted")
	}
}

func TestProcessMessagePricingHealthSkipsStateWrite(t *testing.T) {
	p, ns, ss, _ := newTestProcessor()
	ctx := context.Background()
	body := `{
	  "notificationType": "PRICING_HEALTH",
	  "payload": {
	    "pricingHealthNotification": {
	      "offerChangeTrigger": {
	        "marketplaceId": "A1PA6795UKMFR9",
	        "asin": "B00TEST002",
	        "timeOfOfferChange": "2026-03-01T10:00:00Z"
	      }
	    }
	  }
	}`

	deleteMsg, err := p.ProcessMessage(ctx, "msg-1", body, 1)
	if err != nil {
		t.Fatalf("ProcessMessage error: %v", err)
	}
	if !deleteMsg {
		t.Fatalf("pricing health message should complete")
	}
	if len(ns.rows) != 1 {
		t.Fatalf("notification rows = %d, want 1", len(ns.rows))
	}
	if ss.upserts != 0 {
		t.Fatalf("state mutations = %d, want 0 for a non-offer event", ss.upserts)
	}
}
