// Package aws loads AWS configuration and declares the narrow client
// interfaces used by the shared dedup window and the SQS recorder.
package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// DynamoDBAPI is the subset of the DynamoDB client used by Kantei.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SQSAPI is the subset of the SQS client used by Kantei.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// LoadConfig loads the default AWS configuration chain for region.
func LoadConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	if region == "" {
		region = DefaultRegion
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// NewDynamoDBClient returns a DynamoDB client for cfg.
func NewDynamoDBClient(cfg sdkaws.Config) DynamoDBAPI {
	return dynamodb.NewFromConfig(cfg)
}

// NewSQSClient returns an SQS client for cfg.
func NewSQSClient(cfg sdkaws.Config) SQSAPI {
	return sqs.NewFromConfig(cfg)
}
