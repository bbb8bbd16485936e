package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/canlake/canlake/pkg/canerr"
)

// SNSConfig holds SNS publisher configuration.
type SNSConfig struct {
	Region   string
	TopicARN string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	PublishTimeout time.Duration
}

// SNSNotifier publishes to an SNS topic.
type SNSNotifier struct {
	cfg    SNSConfig
	client *sns.Client
}

// NewSNS creates an SNS notifier for the configured topic.
func NewSNS(ctx context.Context, cfg SNSConfig) (*SNSNotifier, error) {
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("sns topic ARN is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSNotifier{cfg: cfg, client: sns.NewFromConfig(awsCfg)}, nil
}

// Publish sends one message to the topic.
func (n *SNSNotifier) Publish(ctx context.Context, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.PublishTimeout)
	defer cancel()

	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return canerr.E(canerr.KindNotification, "notify.sns", err)
	}
	return nil
}

var _ Notifier = (*SNSNotifier)(nil)
var _ Notifier = (*LogNotifier)(nil)
var _ Notifier = Discard{}
