package metrics

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"skinflow/config"
	"skinflow/logger"
	"skinflow/models"
)

// maxDatumsPerCall is the PutMetricData request limit.
const maxDatumsPerCall = 1000

type metricPutter interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes run and per-source metrics to CloudWatch.
type CloudWatch struct {
	client    metricPutter
	namespace string
	log       *logger.Entry
}

// NewCloudWatch loads the default AWS configuration for the given region.
func NewCloudWatch(ctx context.Context, cfg config.CloudWatchConfig) (*CloudWatch, error) {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cw := newCloudWatch(cfg.Namespace, cloudwatch.NewFromConfig(awsCfg))
	cw.log.WithFields(logger.Fields{
		"region":    awsCfg.Region,
		"namespace": cw.namespace,
	}).Info("initialized CloudWatch client")
	return cw, nil
}

func newCloudWatch(namespace string, client metricPutter) *CloudWatch {
	if namespace == "" {
		namespace = "Skinflow"
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		log:       logger.GetLogger().WithComponent("cloudwatch"),
	}
}

// PublishRun sends the run summary and one set of datums per source.
func (c *CloudWatch) PublishRun(ctx context.Context, result models.RunResult) error {
	data := runDatums(result)
	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: data[start:end],
		}); err != nil {
			return fmt.Errorf("failed to publish CloudWatch metrics: %w", err)
		}
	}

	names := make([]string, 0, 4)
	for _, d := range data[:min(len(data), 4)] {
		names = append(names, aws.ToString(d.MetricName))
	}
	c.log.WithFields(logger.Fields{
		"run_id":  result.RunID,
		"datums":  len(data),
		"metrics": strings.Join(names, ","),
	}).Debug("published metrics to CloudWatch")
	return nil
}

func runDatums(result models.RunResult) []cwtypes.MetricDatum {
	ts := aws.Time(result.Timestamp)
	success := 0.0
	if result.Success {
		success = 1
	}

	data := []cwtypes.MetricDatum{
		datum("RunSuccess", success, cwtypes.StandardUnitCount, ts),
		datum("SuccessfulMarketplaces", float64(result.Summary.SuccessfulMarketplaces), cwtypes.StandardUnitCount, ts),
		datum("ItemsProcessed", float64(result.Summary.TotalItemsProcessed), cwtypes.StandardUnitCount, ts),
		datum("RunDuration", float64(result.Summary.TotalDurationMS), cwtypes.StandardUnitMilliseconds, ts),
	}

	for _, r := range result.Results {
		dim := cwtypes.Dimension{Name: aws.String("marketplace"), Value: aws.String(r.Marketplace)}
		perSource := []cwtypes.MetricDatum{
			datum("ItemsFetched", float64(r.ItemsFetched), cwtypes.StandardUnitCount, ts),
			datum("ItemsProcessed", float64(r.ItemsProcessed), cwtypes.StandardUnitCount, ts),
			datum("DuplicatesDropped", float64(r.DuplicatesDropped), cwtypes.StandardUnitCount, ts),
			datum("SuccessfulBatches", float64(r.SuccessfulBatches), cwtypes.StandardUnitCount, ts),
			datum("FailedBatches", float64(r.FailedBatches), cwtypes.StandardUnitCount, ts),
			datum("SkippedBatches", float64(r.SkippedBatches), cwtypes.StandardUnitCount, ts),
			datum("SourceDuration", float64(r.DurationMS), cwtypes.StandardUnitMilliseconds, ts),
		}
		for i := range perSource {
			perSource[i].Dimensions = []cwtypes.Dimension{dim}
		}
		data = append(data, perSource...)
	}
	return data
}

func datum(name string, value float64, unit cwtypes.StandardUnit, ts *time.Time) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  ts,
	}
}
