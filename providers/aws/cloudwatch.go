package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/yairfalse/vahti/types"
)

// GetMetricStatistics query shape: 2h window at 300s period, Average
// statistic, newest datapoint wins.
const (
	metricPeriodSeconds = 300
	bytesPerMB          = 1024 * 1024
)

// cwMetric maps a pipeline metric name onto its CloudWatch identity
// and unit conversion.
type cwMetric struct {
	cloudWatchName string
	toValue        func(float64) float64
}

var ec2Metrics = map[string]cwMetric{
	types.MetricCPUUtilization: {cloudWatchName: "CPUUtilization", toValue: identity},
	types.MetricNetworkInMB:    {cloudWatchName: "NetworkIn", toValue: bytesToMB},
	types.MetricNetworkOutMB:   {cloudWatchName: "NetworkOut", toValue: bytesToMB},
	types.MetricDiskReadOps:    {cloudWatchName: "DiskReadOps", toValue: identity},
	types.MetricDiskWriteOps:   {cloudWatchName: "DiskWriteOps", toValue: identity},
}

func identity(v float64) float64 { return v }
func bytesToMB(v float64) float64 {
	return v / bytesPerMB
}

// MetricsSource queries CloudWatch for per-resource metric series.
type MetricsSource struct {
	pool *ClientPool
}

// NewMetricsSource builds the source on top of the client pool.
func NewMetricsSource(pool *ClientPool) *MetricsSource {
	return &MetricsSource{pool: pool}
}

// Query returns the ordered (oldest first) datapoint series for one
// metric of one resource over the trailing window.
func (s *MetricsSource) Query(ctx context.Context, resource types.Resource, metricName string, window time.Duration) ([]types.Datapoint, error) {
	spec, ok := ec2Metrics[metricName]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metricName)
	}

	namespace, dimension := namespaceFor(resource)
	end := time.Now()
	start := end.Add(-window)

	out, err := s.pool.CloudWatch(resource.Region).GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(spec.cloudWatchName),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String(dimension),
			Value: aws.String(resource.ID),
		}},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(metricPeriodSeconds),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err != nil {
		return nil, fmt.Errorf("cloudwatch query %s/%s failed: %w", resource.ID, metricName, err)
	}

	points := make([]types.Datapoint, 0, len(out.Datapoints))
	for _, dp := range out.Datapoints {
		points = append(points, types.Datapoint{
			Timestamp: aws.ToTime(dp.Timestamp),
			Value:     spec.toValue(aws.ToFloat64(dp.Average)),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

func namespaceFor(resource types.Resource) (namespace, dimension string) {
	if resource.Type == "rds" {
		return "AWS/RDS", "DBInstanceIdentifier"
	}
	return "AWS/EC2", "InstanceId"
}
