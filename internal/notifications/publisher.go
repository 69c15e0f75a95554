package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/documents"
	"etmf-portal/portal-backend/pkg/workflows"
)

// SNSAPI is the part of the SNS client the publisher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes document status changes to an SNS topic so
// downstream systems (e-mail digests, study dashboards) can react
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher creates a publisher using the default AWS credential chain
func NewSNSPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewSNSPublisherWithClient(sns.NewFromConfig(cfg), topicARN, logger), nil
}

func NewSNSPublisherWithClient(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger}
}

// DocumentProjected implements documents.Listener. Only status changes are
// published; refreshes of an unchanged status are not events.
func (p *SNSPublisher) DocumentProjected(ctx context.Context, doc *documents.Document, previous workflows.Status) {
	event := NewDocumentEvent(EventDocumentTransitioned, doc, previous)
	if !event.Transitioned() {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to publish document event",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
}

// Publish sends one event
func (p *SNSPublisher) Publish(ctx context.Context, event DocumentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(event.Type),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(event.Type)},
			"status":     {DataType: aws.String("String"), StringValue: aws.String(string(event.Status))},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	p.logger.Debug("Published document event",
		zap.String("document_id", event.DocumentID),
		zap.String("status", string(event.Status)))
	return nil
}
