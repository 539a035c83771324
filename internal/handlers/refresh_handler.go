package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sellerpulse/pricewatch/internal/metrics"
	"github.com/sellerpulse/pricewatch/internal/pricing"
	"github.com/sellerpulse/pricewatch/internal/ratelimit"
	"github.com/sellerpulse/pricewatch/internal/spapi"
	"github.com/sellerpulse/pricewatch/internal/validation"
)

// RefreshService is what the route needs from the refresh layer.
type RefreshService interface {
	Refresh(ctx context.Context, asin, marketplaceID string) (*pricing.Snapshot, bool, error)
}

// HandlerConfig groups dependencies for the refresh routes.
type HandlerConfig struct {
	Refresher RefreshService
	Emitter   *metrics.Emitter
}

// snapshotView is the wire shape for a competitive snapshot.
type snapshotView struct {
	ASIN           string   `json:"asin"`
	MarketplaceID  string   `json:"marketplace_id"`
	YourPrice      *float64 `json:"your_price"`
	MarketLowPrice *float64 `json:"market_low_price"`
	PrimeLowPrice  *float64 `json:"prime_low_price"`
	YourRank       *int     `json:"your_rank"`
	TotalOffers    int      `json:"total_offers"`
	BuyBoxIsYours  bool     `json:"buy_box_is_yours"`
	Severity       string   `json:"severity"`
	LastUpdated    string   `json:"last_updated"`
}

func viewOf(snap *pricing.Snapshot) snapshotView {
	return snapshotView{
		ASIN:           snap.ASIN,
		MarketplaceID:  snap.MarketplaceID,
		YourPrice:      snap.YourPrice,
		MarketLowPrice: snap.MarketLowPrice,
		PrimeLowPrice:  snap.PrimeLowPrice,
		YourRank:       snap.YourRank,
		TotalOffers:    snap.TotalOffers,
		BuyBoxIsYours:  snap.BuyBoxIsYours,
		Severity:       snap.Severity,
		LastUpdated:    snap.LastUpdated.UTC().Format(time.RFC3339),
	}
}

// RegisterRefreshRoutes registers the live refresh API.
func RegisterRefreshRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/products/:asin/refresh", func(c *gin.Context) {
		ctx := c.Request.Context()

		asin := c.Param("asin")
		if !validation.ValidASIN(asin) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_asin"})
			return
		}

		var req validation.RefreshRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		snap, cached, err := cfg.Refresher.Refresh(ctx, asin, req.MarketplaceID)
		if err != nil {
			writeRefreshError(c, err)
			return
		}

		if !cached {
			cfg.Emitter.Count(ctx, metrics.MetricRefreshes, 1)
		}
		c.JSON(http.StatusOK, gin.H{
			"cached":   cached,
			"snapshot": viewOf(snap),
		})
	})
}

// setRetryAfter writes a Retry-After header, rounding the wait up to
// whole seconds.
func setRetryAfter(c *gin.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}
	secs := int((wait + time.Second - 1) / time.Second)
	c.Header("Retry-After", strconv.Itoa(secs))
}

// writeRefreshError maps the upstream error taxonomy onto HTTP statuses.
func writeRefreshError(c *gin.Context, err error) {
	var throttle *spapi.ThrottleError
	if errors.As(err, &throttle) {
		setRetryAfter(c, throttle.RetryAfter)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "upstream_throttled"})
		return
	}
	var maxWait *ratelimit.MaxWaitError
	if errors.As(err, &maxWait) {
		setRetryAfter(c, maxWait.Wait)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_budget_exhausted"})
		return
	}
	if errors.Is(err, ratelimit.ErrMaxWait) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_budget_exhausted"})
		return
	}

	var authErr *spapi.AuthError
	if errors.As(err, &authErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_auth_failed"})
		return
	}

	var apiErr *spapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Fatal {
			if apiErr.StatusCode == http.StatusNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "upstream_rejected", "detail": apiErr.Message})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable"})
		return
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh_failed", "detail": err.Error()})
}
