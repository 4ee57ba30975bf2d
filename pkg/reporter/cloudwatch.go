package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/smithy-go"
)

const (
	// DefaultRegion is used when CloudWatchConfig.Region is empty
	DefaultRegion = "eu-central-1"

	// NamespacePrefix is prepended to every configured namespace
	NamespacePrefix = "Cycletime/"
)

// PutMetricDataAPI is the slice of the CloudWatch client the reporter needs
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchConfig holds backend region, credentials and namespace
type CloudWatchConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Namespace is reported as Cycletime/<Namespace>
	Namespace string
	// Endpoint overrides the service endpoint (localstack and friends)
	Endpoint string
	// Client replaces the SDK client; credentials and region are then ignored
	Client PutMetricDataAPI
}

// CloudWatch reports measurements with PutMetricData
type CloudWatch struct {
	client    PutMetricDataAPI
	namespace string
	region    string
}

// NewCloudWatch builds a CloudWatch reporter. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewCloudWatch(ctx context.Context, cfg CloudWatchConfig) (*CloudWatch, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	client := cfg.Client
	if client == nil {
		opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client = cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}

	return &CloudWatch{
		client:    client,
		namespace: NamespacePrefix + cfg.Namespace,
		region:    region,
	}, nil
}

// Namespace returns the full CloudWatch namespace, prefix included
func (c *CloudWatch) Namespace() string {
	return c.namespace
}

// Region returns the region the reporter was configured for
func (c *CloudWatch) Region() string {
	return c.region
}

// Report sends one metric datum
func (c *CloudWatch) Report(ctx context.Context, m Measurement) error {
	input, err := c.input(m)
	if err != nil {
		return err
	}

	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("put metric data %s/%s (%s): %w", c.namespace, m.Name, apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("put metric data %s/%s: %w", c.namespace, m.Name, err)
	}
	return nil
}

func (c *CloudWatch) input(m Measurement) (*cloudwatch.PutMetricDataInput, error) {
	if m.Name == "" {
		return nil, ErrEmptyMetricName
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	unit := m.Unit
	if unit == "" {
		unit = UnitSeconds
	}

	return &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(m.Name),
				Timestamp:  aws.Time(ts),
				Unit:       types.StandardUnit(unit),
				Value:      aws.Float64(m.Value),
			},
		},
	}, nil
}
