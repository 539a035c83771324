package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sellerpulse/pricewatch/internal/aws"
)

// Metric names emitted by the pipeline.
const (
	MetricReceived   = "NotificationsReceived"
	MetricProcessed  = "NotificationsProcessed"
	MetricDuplicates = "DuplicateDeliveries"
	MetricStale      = "StaleEventsDropped"
	MetricFailures   = "ProcessingFailures"
	MetricSeverity   = "SnapshotSeverity"
	MetricRefreshes  = "LiveRefreshes"
)

// Emitter publishes operational counters to CloudWatch. Emission is
// best-effort: a metrics failure is logged, never propagated into the
// pipeline.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewEmitter returns an Emitter for one namespace.
func NewEmitter(client aws.CloudWatchAPI, namespace string) *Emitter {
	return &Emitter{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count adds n to a metric.
func (e *Emitter) Count(ctx context.Context, name string, n float64) {
	e.put(ctx, name, n, nil)
}

// CountSeverity adds one snapshot to the severity distribution.
func (e *Emitter) CountSeverity(ctx context.Context, severity string) {
	e.put(ctx, MetricSeverity, 1, map[string]string{"Severity": severity})
}

func (e *Emitter) put(ctx context.Context, name string, n float64, dims map[string]string) {
	if e == nil || e.client == nil {
		return
	}
	now := e.nowFunc()
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &n,
		Timestamp:  &now,
		Unit:       cwtypes.StandardUnitCount,
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &e.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		log.Printf("[metrics] put %s failed: %v", name, err)
	}
}
