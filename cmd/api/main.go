package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sellerpulse/pricewatch/internal/aws"
	"github.com/sellerpulse/pricewatch/internal/config"
	"github.com/sellerpulse/pricewatch/internal/failures"
	"github.com/sellerpulse/pricewatch/internal/handlers"
	"github.com/sellerpulse/pricewatch/internal/metrics"
	"github.com/sellerpulse/pricewatch/internal/ratelimit"
	"github.com/sellerpulse/pricewatch/internal/refresh"
	"github.com/sellerpulse/pricewatch/internal/spapi"
	"github.com/sellerpulse/pricewatch/internal/state"
)

// newLimiter builds the outbound call limiter from the configured
// per-minute budgets.
func newLimiter(cfg config.SPAPI) *ratelimit.Limiter {
	return ratelimit.New(map[ratelimit.Class]ratelimit.Config{
		ratelimit.ClassPricing: {
			PerMinute: float64(cfg.PricingPerMin),
			Burst:     float64(cfg.PricingPerMin),
			MaxWait:   cfg.LimiterMaxWait,
		},
		ratelimit.ClassFeeds: {
			PerMinute: float64(cfg.FeedsPerMin),
			Burst:     1,
			MaxWait:   cfg.LimiterMaxWait,
		},
	})
}

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterRefreshRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("[api] config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("[api] failed to init aws clients: %v", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	tokens := spapi.NewTokenSource(httpClient, cfg.SPAPI.TokenEndpoint,
		cfg.SPAPI.ClientID, cfg.SPAPI.ClientSecret, cfg.SPAPI.RefreshToken)
	var roles *spapi.RoleSource
	if cfg.SPAPI.RoleARN != "" {
		roles = spapi.NewRoleSource(clients.STS, cfg.SPAPI.RoleARN, cfg.SPAPI.RoleExternalID)
	}
	pricingAPI := spapi.NewClient(httpClient, cfg.SPAPI.Endpoint, clients.Region, tokens, roles)

	limiter := newLimiter(cfg.SPAPI)

	states := state.NewStore(clients.DynamoDB, cfg.CurrentStateTbl)
	ledger := failures.NewLedger(clients.DynamoDB, cfg.FailuresTbl)
	refresher := refresh.NewService(states, pricingAPI, limiter, ledger, cfg.SellerID, cfg.RefreshCooldown)
	emitter := metrics.NewEmitter(clients.CloudWatch, cfg.MetricsNamespace)

	r := setupRouter(handlers.HandlerConfig{
		Refresher: refresher,
		Emitter:   emitter,
	})

	log.Printf("[api] listening on %s", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("[api] server exited: %v", err)
	}
}
