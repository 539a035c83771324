package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sellerpulse/pricewatch/internal/failures"
	"github.com/sellerpulse/pricewatch/internal/metrics"
	"github.com/sellerpulse/pricewatch/internal/notifications"
	"github.com/sellerpulse/pricewatch/internal/pricing"
	"github.com/sellerpulse/pricewatch/internal/state"
)

// The processor talks to the stores through narrow interfaces so tests can
// run against in-memory implementations.
type notificationStore interface {
	Create(ctx context.Context, ev *notifications.Event) (bool, error)
	Get(ctx context.Context, dedupeHash string) (*notifications.Record, error)
	SetStatus(ctx context.Context, dedupeHash, expected, next string) error
	MarkProcessed(ctx context.Context, dedupeHash, status string) error
}

type stateStore interface {
	Upsert(ctx context.Context, snap pricing.Snapshot) error
}

type failureLedger interface {
	Record(ctx context.Context, f failures.Failure) error
}

// Processor runs the ingestion pipeline for one received message:
// parse, dedupe-persist, analyze, upsert current state.
type Processor struct {
	notifications notificationStore
	states        stateStore
	ledger        failureLedger
	emitter       *metrics.Emitter
	sellerID      string
	thresholds    pricing.Thresholds
	retryBudget   int
}

// NewProcessor wires the pipeline stages.
func NewProcessor(ns notificationStore, ss stateStore, fl failureLedger, em *metrics.Emitter, sellerID string, retryBudget int) *Processor {
	return &Processor{
		notifications: ns,
		states:        ss,
		ledger:        fl,
		emitter:       em,
		sellerID:      sellerID,
		thresholds:    pricing.DefaultThresholds(),
		retryBudget:   retryBudget,
	}
}

// ProcessMessage handles one queue delivery. The returned deleteMsg says
// whether the message should be removed from the queue; when it is false
// the visibility timeout will redeliver it until the queue's own redrive
// policy gives up.
func (p *Processor) ProcessMessage(ctx context.Context, messageID, body string, receiveCount int) (deleteMsg bool, err error) {
	ev, err := notifications.Parse(messageID, body)
	if err != nil {
		var pe *notifications.ParseError
		if errors.As(err, &pe) {
			return p.containPoison(ctx, messageID, body, receiveCount, pe)
		}
		return false, err
	}

	created, err := p.notifications.Create(ctx, ev)
	if err != nil {
		p.recordFailure(ctx, ev, failures.KindTransientStore, err)
		return false, fmt.Errorf("persist notification: %w", err)
	}
	if !created {
		return p.handleDuplicate(ctx, ev, receiveCount)
	}

	return p.runPipeline(ctx, ev, receiveCount)
}

// handleDuplicate resolves a redelivery that hit the dedupe constraint.
// Completed and failed rows make the redelivery a success no-op; a row
// still in flight is left for the owning worker (or redelivery).
func (p *Processor) handleDuplicate(ctx context.Context, ev *notifications.Event, receiveCount int) (bool, error) {
	p.emitter.Count(ctx, metrics.MetricDuplicates, 1)

	rec, err := p.notifications.Get(ctx, ev.DedupeHash)
	if err != nil {
		return false, fmt.Errorf("inspect duplicate: %w", err)
	}
	if rec == nil {
		return false, fmt.Errorf("duplicate hit but no row for hash %s", ev.DedupeHash)
	}
	switch rec.Status {
	case notifications.StatusCompleted, notifications.StatusFailed:
		log.Printf("[worker] duplicate delivery for hash=%s (status=%s), dropping", ev.DedupeHash, rec.Status)
		return true, nil
	case notifications.StatusNew:
		// first delivery crashed before processing: resume here
		log.Printf("[worker] resuming unprocessed notification hash=%s", ev.DedupeHash)
		return p.runPipeline(ctx, ev, receiveCount)
	default:
		log.Printf("[worker] duplicate for in-flight hash=%s, leaving to owner", ev.DedupeHash)
		return false, nil
	}
}

// runPipeline moves a NEW notification through analysis to COMPLETED,
// or to FAILED once a persistently failing message exhausts its retry
// budget.
func (p *Processor) runPipeline(ctx context.Context, ev *notifications.Event, receiveCount int) (bool, error) {
	err := p.notifications.SetStatus(ctx, ev.DedupeHash, notifications.StatusNew, notifications.StatusProcessing)
	if err == notifications.ErrStatusMismatch {
		log.Printf("[worker] hash=%s claimed by another worker", ev.DedupeHash)
		return false, nil
	}
	if err != nil {
		p.recordFailure(ctx, ev, failures.KindTransientStore, err)
		if receiveCount >= p.retryBudget {
			return p.failTerminally(ctx, ev, receiveCount)
		}
		return false, fmt.Errorf("claim notification: %w", err)
	}

	if ev.Offers != nil {
		snap := pricing.Analyze(pricing.OfferEvent{
			ASIN:          ev.ASIN,
			MarketplaceID: ev.MarketplaceID,
			EventTime:     ev.EventTime,
			Offers:        ev.Offers,
		}, p.sellerID, p.thresholds)
		snap.SourceDedupeHash = ev.DedupeHash

		switch err := p.states.Upsert(ctx, snap); {
		case err == nil:
			p.emitter.CountSeverity(ctx, snap.Severity)
		case errors.Is(err, state.ErrStaleEvent):
			// out-of-order delivery: newer data already stored
			log.Printf("[worker] stale event for asin=%s hash=%s, dropped", ev.ASIN, ev.DedupeHash)
			p.emitter.Count(ctx, metrics.MetricStale, 1)
		default:
			p.recordFailure(ctx, ev, failures.KindTransientStore, err)
			if receiveCount >= p.retryBudget {
				return p.failTerminally(ctx, ev, receiveCount)
			}
			// put the row back so redelivery can claim it again
			if rerr := p.notifications.SetStatus(ctx, ev.DedupeHash, notifications.StatusProcessing, notifications.StatusNew); rerr != nil {
				log.Printf("[worker] release hash=%s failed: %v", ev.DedupeHash, rerr)
			}
			return false, fmt.Errorf("upsert current state: %w", err)
		}
	}

	if err := p.notifications.MarkProcessed(ctx, ev.DedupeHash, notifications.StatusCompleted); err != nil {
		p.recordFailure(ctx, ev, failures.KindTransientStore, err)
		return false, fmt.Errorf("complete notification: %w", err)
	}

	p.emitter.Count(ctx, metrics.MetricProcessed, 1)
	log.Printf("[worker] completed %s asin=%s marketplace=%s", ev.EventType, ev.ASIN, ev.MarketplaceID)
	return true, nil
}

// failTerminally marks a notification FAILED after its retry budget is
// spent and deletes the message. The failure ledger already holds the
// per-attempt detail; FAILED makes later duplicates terminal no-ops.
func (p *Processor) failTerminally(ctx context.Context, ev *notifications.Event, receiveCount int) (bool, error) {
	if err := p.notifications.MarkProcessed(ctx, ev.DedupeHash, notifications.StatusFailed); err != nil {
		log.Printf("[worker] mark failed hash=%s error: %v", ev.DedupeHash, err)
		return false, fmt.Errorf("mark notification failed: %w", err)
	}
	log.Printf("[worker] hash=%s marked failed after %d receives", ev.DedupeHash, receiveCount)
	return true, nil
}

// containPoison records a parse failure and decides whether the message
// has exhausted its retry budget. Deleting a malformed message after the
// budget keeps one poison body from wedging the queue.
func (p *Processor) containPoison(ctx context.Context, messageID, body string, receiveCount int, pe *notifications.ParseError) (bool, error) {
	f := failures.Failure{
		MessageID:    messageID,
		DedupeHash:   notifications.DedupeHash(body),
		RawPayload:   body,
		ErrorKind:    failures.KindParse,
		ErrorMessage: pe.Error(),
	}
	if err := p.ledger.Record(ctx, f); err != nil {
		log.Printf("[worker] failure ledger write failed: %v", err)
	}
	p.emitter.Count(ctx, metrics.MetricFailures, 1)

	if receiveCount >= p.retryBudget {
		log.Printf("[worker] poison message id=%s dropped after %d receives: %v", messageID, receiveCount, pe)
		return true, nil
	}
	log.Printf("[worker] parse failure id=%s (receive %d/%d): %v", messageID, receiveCount, p.retryBudget, pe)
	return false, nil
}

func (p *Processor) recordFailure(ctx context.Context, ev *notifications.Event, kind string, cause error) {
	f := failures.Failure{
		MessageID:    ev.MessageID,
		DedupeHash:   ev.DedupeHash,
		RawPayload:   ev.RawPayload,
		ErrorKind:    kind,
		ErrorMessage: cause.Error(),
	}
	if err := p.ledger.Record(ctx, f); err != nil {
		log.Printf("[worker] failure ledger write failed: %v", err)
	}
	p.emitter.Count(ctx, metrics.MetricFailures, 1)
}
