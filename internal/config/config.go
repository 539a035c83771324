package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Worker holds settings for the notification poller binary.
type Worker struct {
	QueueURL          string        `envconfig:"NOTIFICATIONS_QUEUE_URL" required:"true"`
	NotificationsTbl  string        `envconfig:"NOTIFICATIONS_TABLE" default:"worker_notifications"`
	CurrentStateTbl   string        `envconfig:"CURRENT_STATE_TABLE" default:"current_state"`
	FailuresTbl       string        `envconfig:"FAILURES_TABLE" default:"worker_failures"`
	SellerID          string        `envconfig:"SELLER_ID" required:"true"`
	MaxBatch          int32         `envconfig:"POLL_MAX_BATCH" default:"10"`
	WaitTime          int32         `envconfig:"POLL_WAIT_SECONDS" default:"20"`
	VisibilityTimeout int32         `envconfig:"VISIBILITY_TIMEOUT_SECONDS" default:"60"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"8"`
	RetryBudget       int           `envconfig:"RETRY_BUDGET" default:"3"`
	DrainGrace        time.Duration `envconfig:"DRAIN_GRACE" default:"30s"`
	MetricsNamespace  string        `envconfig:"METRICS_NAMESPACE" default:"PriceWatch"`
}

// API holds settings for the refresh API binary.
type API struct {
	Addr             string        `envconfig:"API_ADDR" default:":8080"`
	CurrentStateTbl  string        `envconfig:"CURRENT_STATE_TABLE" default:"current_state"`
	FailuresTbl      string        `envconfig:"FAILURES_TABLE" default:"worker_failures"`
	SellerID         string        `envconfig:"SELLER_ID" required:"true"`
	RefreshCooldown  time.Duration `envconfig:"REFRESH_COOLDOWN" default:"5m"`
	MetricsNamespace string        `envconfig:"METRICS_NAMESPACE" default:"PriceWatch"`
	SPAPI            SPAPI
}

// SPAPI holds credentials and budgets for the external pricing API.
type SPAPI struct {
	Endpoint       string        `envconfig:"SPAPI_ENDPOINT" default:"https://sellingpartnerapi-eu.amazon.com"`
	TokenEndpoint  string        `envconfig:"LWA_TOKEN_ENDPOINT" default:"https://api.amazon.com/auth/o2/token"`
	ClientID       string        `envconfig:"LWA_CLIENT_ID"`
	ClientSecret   string        `envconfig:"LWA_CLIENT_SECRET"`
	RefreshToken   string        `envconfig:"LWA_REFRESH_TOKEN"`
	RoleARN        string        `envconfig:"SPAPI_ROLE_ARN"`
	RoleExternalID string        `envconfig:"SPAPI_ROLE_EXTERNAL_ID"`
	PricingPerMin  int           `envconfig:"PRICING_REQUESTS_PER_MINUTE" default:"30"`
	FeedsPerMin    int           `envconfig:"FEEDS_REQUESTS_PER_MINUTE" default:"1"`
	LimiterMaxWait time.Duration `envconfig:"LIMITER_MAX_WAIT" default:"10s"`
}

// LoadWorker reads worker settings from the environment.
func LoadWorker() (Worker, error) {
	var c Worker
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("load worker config: %w", err)
	}
	return c, nil
}

// LoadAPI reads API settings from the environment, including the SP-API block.
func LoadAPI() (API, error) {
	var c API
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("load api config: %w", err)
	}
	return c, nil
}
