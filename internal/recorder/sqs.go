package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	kaws "github.com/BTreeMap/Kantei/internal/aws"
	"github.com/BTreeMap/Kantei/internal/models"
)

// ErrQueueURLNotSet is returned by NewSQSRecorder without a queue URL.
var ErrQueueURLNotSet = errors.New("SQS queue URL not set")

// SQSRecorder publishes identifications as JSON messages.
type SQSRecorder struct {
	client   kaws.SQSAPI
	queueURL string
}

// NewSQSRecorder creates a recorder publishing to queueURL.
func NewSQSRecorder(client kaws.SQSAPI, queueURL string) (*SQSRecorder, error) {
	if queueURL == "" {
		return nil, ErrQueueURLNotSet
	}
	return &SQSRecorder{client: client, queueURL: queueURL}, nil
}

func (r *SQSRecorder) Record(ctx context.Context, rec models.Identification) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal identification: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(r.queueURL),
		MessageBody: sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind":     {DataType: sdkaws.String("String"), StringValue: sdkaws.String(string(rec.Kind))},
			"owner_id": {DataType: sdkaws.String("String"), StringValue: sdkaws.String(rec.OwnerID)},
		},
	}
	if _, err := r.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
