package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	kaws "github.com/BTreeMap/Kantei/internal/aws"
)

// Compile-time check that DynamoWindow implements Window.
var _ Window = (*DynamoWindow)(nil)

// dynamoEntry is the item shape stored in the dedup table. The table's TTL
// attribute should be set to expires_at so DynamoDB reaps old keys.
type dynamoEntry struct {
	Key       string `dynamodbav:"dedup_key"`
	SeenAtMs  int64  `dynamodbav:"seen_at_ms"`
	ExpiresMs int64  `dynamodbav:"expires_ms"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoWindow is a Window shared between processes through a DynamoDB table.
// Membership is decided by a single conditional PutItem, so concurrent
// writers racing on one key get exactly one "not seen".
type DynamoWindow struct {
	client    kaws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoWindow returns a window backed by tableName.
func NewDynamoWindow(client kaws.DynamoDBAPI, tableName string) *DynamoWindow {
	return &DynamoWindow{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Seen implements Window.
func (w *DynamoWindow) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	now := w.nowFunc()
	expires := now.Add(window)
	entry := dynamoEntry{
		Key:       key,
		SeenAtMs:  now.UnixMilli(),
		ExpiresMs: expires.UnixMilli(),
		// TTL granularity is seconds; round up so the item outlives the window.
		ExpiresAt: expires.Add(time.Second).Unix(),
	}

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return false, fmt.Errorf("marshal dedup entry: %w", err)
	}

	cond := "attribute_not_exists(dedup_key) OR expires_ms < :now"
	_, err = w.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &w.tableName,
		Item:                item,
		ConditionExpression: &cond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return true, nil
		}
		return false, fmt.Errorf("put dedup entry: %w", err)
	}
	return false, nil
}
