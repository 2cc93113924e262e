package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue adapts an SQS queue to the Queue contract. Receives long-poll;
// deletes acknowledge one message.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQS(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// OpenSQS loads the default AWS config for region and wraps queueURL.
func OpenSQS(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQS(sqs.NewFromConfig(cfg), queueURL), nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int32) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, msg Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

var _ Queue = (*SQSQueue)(nil)
