package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sellerpulse/pricewatch/internal/failures"
	"github.com/sellerpulse/pricewatch/internal/pricing"
	"github.com/sellerpulse/pricewatch/internal/ratelimit"
	"github.com/sellerpulse/pricewatch/internal/spapi"
	"github.com/sellerpulse/pricewatch/internal/state"
)

// DefaultCooldown is the minimum interval between on-demand refreshes of
// the same product.
const DefaultCooldown = 5 * time.Minute

// StateStore is the slice of the current-state store the service needs.
type StateStore interface {
	Get(ctx context.Context, asin, marketplaceID string) (*pricing.Snapshot, error)
	Upsert(ctx context.Context, snap pricing.Snapshot) error
}

// PricingAPI is the single-item read path of the external pricing API.
type PricingAPI interface {
	GetItemOffers(ctx context.Context, asin, marketplaceID string) (pricing.OfferEvent, error)
}

// SlotLimiter gates outbound pricing calls.
type SlotLimiter interface {
	Acquire(ctx context.Context, class ratelimit.Class) error
	ReportThrottle(class ratelimit.Class)
}

// FailureLedger records refresh failures for operational triage. A nil
// ledger disables recording.
type FailureLedger interface {
	Record(ctx context.Context, f failures.Failure) error
}

// Service is the user-triggered refresh path. It shares the analyzer and
// the current-state table with the queue pipeline but bypasses the queue.
type Service struct {
	states     StateStore
	api        PricingAPI
	limiter    SlotLimiter
	ledger     FailureLedger
	sellerID   string
	thresholds pricing.Thresholds
	cooldown   time.Duration
	nowFunc    func() time.Time
}

// NewService wires a refresh service. cooldown <= 0 selects the default.
func NewService(states StateStore, api PricingAPI, limiter SlotLimiter, ledger FailureLedger, sellerID string, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		states:     states,
		api:        api,
		limiter:    limiter,
		ledger:     ledger,
		sellerID:   sellerID,
		thresholds: pricing.DefaultThresholds(),
		cooldown:   cooldown,
		nowFunc:    time.Now,
	}
}

// Refresh fetches fresh pricing for one product and upserts the snapshot.
// Within the per-product cooldown it returns the stored row with
// cached=true and makes no external call, so duplicate concurrent
// refreshes of the same product cannot double-spend the API budget.
func (s *Service) Refresh(ctx context.Context, asin, marketplaceID string) (*pricing.Snapshot, bool, error) {
	stored, err := s.states.Get(ctx, asin, marketplaceID)
	if err != nil {
		return nil, false, fmt.Errorf("read current state: %w", err)
	}
	if stored != nil && s.nowFunc().Sub(stored.LastUpdated) < s.cooldown {
		return stored, true, nil
	}

	if err := s.limiter.Acquire(ctx, ratelimit.ClassPricing); err != nil {
		s.recordFailure(ctx, asin, marketplaceID, err)
		return nil, false, err
	}

	ev, err := s.api.GetItemOffers(ctx, asin, marketplaceID)
	if err != nil {
		var te *spapi.ThrottleError
		if errors.As(err, &te) {
			s.limiter.ReportThrottle(ratelimit.ClassPricing)
		}
		s.recordFailure(ctx, asin, marketplaceID, err)
		return nil, false, err
	}

	snap := pricing.Analyze(ev, s.sellerID, s.thresholds)

	if err := s.states.Upsert(ctx, snap); err != nil {
		if errors.Is(err, state.ErrStaleEvent) {
			// the queue pipeline beat us to a newer snapshot, serve that
			log.Printf("[refresh] stale refresh for asin=%s marketplace=%s, keeping stored row", asin, marketplaceID)
			newer, gerr := s.states.Get(ctx, asin, marketplaceID)
			if gerr != nil {
				return nil, false, fmt.Errorf("reread current state: %w", gerr)
			}
			return newer, true, nil
		}
		return nil, false, fmt.Errorf("upsert snapshot: %w", err)
	}

	return &snap, false, nil
}

// recordFailure classifies a refresh failure and writes it to the ledger.
func (s *Service) recordFailure(ctx context.Context, asin, marketplaceID string, cause error) {
	if s.ledger == nil {
		return
	}

	kind := failures.KindUnknown
	var te *spapi.ThrottleError
	var ae *spapi.AuthError
	var apiErr *spapi.APIError
	switch {
	case errors.As(cause, &te), errors.Is(cause, ratelimit.ErrMaxWait):
		kind = failures.KindRateLimited
	case errors.As(cause, &ae):
		kind = failures.KindAuth
	case errors.As(cause, &apiErr) && apiErr.Fatal:
		kind = failures.KindFatalExternal
	}

	f := failures.Failure{
		MessageID:    "refresh " + asin + " " + marketplaceID,
		ErrorKind:    kind,
		ErrorMessage: cause.Error(),
	}
	if err := s.ledger.Record(ctx, f); err != nil {
		log.Printf("[refresh] failure ledger write failed: %v", err)
	}
}
