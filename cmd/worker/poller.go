package main

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	sdksqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sellerpulse/pricewatch/internal/aws"
	"github.com/sellerpulse/pricewatch/internal/config"
	"github.com/sellerpulse/pricewatch/internal/metrics"
)

// Poller drives the unbounded receive loop: long-poll a batch, fan the
// messages out to a bounded worker gate, delete on pipeline success.
type Poller struct {
	sqs       aws.SQSAPI
	processor *Processor
	emitter   *metrics.Emitter
	cfg       config.Worker
	gate      chan struct{}
	wg        sync.WaitGroup
}

// NewPoller builds a poller with a worker gate of cfg.WorkerConcurrency.
func NewPoller(sqsClient aws.SQSAPI, processor *Processor, emitter *metrics.Emitter, cfg config.Worker) *Poller {
	cc := cfg.WorkerConcurrency
	if cc <= 0 {
		cc = 1
	}
	return &Poller{
		sqs:       sqsClient,
		processor: processor,
		emitter:   emitter,
		cfg:       cfg,
		gate:      make(chan struct{}, cc),
	}
}

// Run loops until ctx is cancelled, then drains in-flight messages within
// the configured grace period. A message is only deleted after the whole
// pipeline succeeded, so shutdown can never double-delete or lose one.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[poller] started queue=%s concurrency=%d", p.cfg.QueueURL, cap(p.gate))

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		default:
		}

		out, err := p.sqs.ReceiveMessage(ctx, &sdksqs.ReceiveMessageInput{
			QueueUrl:            &p.cfg.QueueURL,
			MaxNumberOfMessages: p.cfg.MaxBatch,
			WaitTimeSeconds:     p.cfg.WaitTime,
			VisibilityTimeout:   p.cfg.VisibilityTimeout,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				p.drain()
				return
			}
			log.Printf("[poller] receive error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}
		p.emitter.Count(ctx, metrics.MetricReceived, float64(len(out.Messages)))

		for _, m := range out.Messages {
			msg := m
			p.gate <- struct{}{}
			p.wg.Add(1)
			go func() {
				defer func() {
					<-p.gate
					p.wg.Done()
				}()
				p.handle(ctx, msg)
			}()
		}
	}
}

func (p *Poller) handle(ctx context.Context, msg sqstypes.Message) {
	messageID := strValue(msg.MessageId)
	body := strValue(msg.Body)
	receiveCount := 1
	if v, ok := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			receiveCount = n
		}
	}

	// in-flight work must survive the shutdown signal: a processed but
	// undeleted message would be redelivered and double-processed
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainGrace)
	defer cancel()

	deleteMsg, err := p.processor.ProcessMessage(msgCtx, messageID, body, receiveCount)
	if err != nil {
		log.Printf("[poller] message id=%s failed (receive %d): %v", messageID, receiveCount, err)
	}
	if !deleteMsg {
		return
	}

	if _, err := p.sqs.DeleteMessage(msgCtx, &sdksqs.DeleteMessageInput{
		QueueUrl:      &p.cfg.QueueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		log.Printf("[poller] delete message id=%s failed: %v", messageID, err)
	}
}

// drain waits for in-flight workers, bounded by the grace period.
func (p *Poller) drain() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[poller] drained, exiting")
	case <-time.After(p.cfg.DrainGrace):
		log.Printf("[poller] drain grace %s elapsed, exiting with work in flight", p.cfg.DrainGrace)
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
