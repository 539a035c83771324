package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sellerpulse/pricewatch/internal/aws"
	"github.com/sellerpulse/pricewatch/internal/config"
	"github.com/sellerpulse/pricewatch/internal/failures"
	"github.com/sellerpulse/pricewatch/internal/metrics"
	"github.com/sellerpulse/pricewatch/internal/notifications"
	"github.com/sellerpulse/pricewatch/internal/state"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	emitter := metrics.NewEmitter(clients.CloudWatch, cfg.MetricsNamespace)
	processor := NewProcessor(
		notifications.NewStore(clients.DynamoDB, cfg.NotificationsTbl),
		state.NewStore(clients.DynamoDB, cfg.CurrentStateTbl),
		failures.NewLedger(clients.DynamoDB, cfg.FailuresTbl),
		emitter,
		cfg.SellerID,
		cfg.RetryBudget,
	)

	NewPoller(clients.SQS, processor, emitter, cfg).Run(ctx)
}
