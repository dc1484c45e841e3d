package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Gauge is a single point-in-time measurement.
type Gauge struct {
	Name    string
	Value   float64
	Percent bool
}

// MetricsReporter periodically pushes gauges to CloudWatch.
type MetricsReporter struct {
	cw         CloudWatchAPI
	namespace  string
	dimensions map[string]string
	collect    func() []Gauge
	log        *zap.SugaredLogger
	nowFunc    func() time.Time
}

// NewMetricsReporter returns a reporter publishing under namespace.
// collect is called once per publish.
func NewMetricsReporter(cw CloudWatchAPI, namespace string, dimensions map[string]string, collect func() []Gauge, log *zap.SugaredLogger) *MetricsReporter {
	return &MetricsReporter{
		cw:         cw,
		namespace:  namespace,
		dimensions: dimensions,
		collect:    collect,
		log:        log,
		nowFunc:    time.Now,
	}
}

// Publish sends the current gauges in one PutMetricData call.
func (r *MetricsReporter) Publish(ctx context.Context) error {
	gauges := r.collect()
	if len(gauges) == 0 {
		return nil
	}

	dims := make([]cwtypes.Dimension, 0, len(r.dimensions))
	for k, v := range r.dimensions {
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(gauges))
	for _, g := range gauges {
		unit := cwtypes.StandardUnitCount
		if g.Percent {
			unit = cwtypes.StandardUnitPercent
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(g.Name),
			Value:      sdkaws.Float64(g.Value),
			Unit:       unit,
			Timestamp:  sdkaws.Time(now),
			Dimensions: dims,
		})
	}

	_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

// Run publishes every interval until ctx is done. Failures are logged and the loop continues.
func (r *MetricsReporter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Publish(ctx); err != nil {
				r.log.Warnw("metrics publish failed", "namespace", r.namespace, "error", err)
			}
		}
	}
}
