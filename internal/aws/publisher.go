package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one SQS message. GroupID and DedupID apply to FIFO queues only.
type Message struct {
	Body       string
	Attributes map[string]sqstypes.MessageAttributeValue
	GroupID    string
	DedupID    string
}

// Publisher sends to one queue. A queue URL ending in ".fifo" is treated as FIFO.
type Publisher struct {
	sqs      SQSAPI
	queueURL string
	fifo     bool
}

func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		sqs:      sqsClient,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// FIFO reports whether messages carry group and deduplication ids.
func (p *Publisher) FIFO() bool { return p.fifo }

// Send returns the SQS message id.
func (p *Publisher) Send(ctx context.Context, m Message) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &m.Body,
	}
	if len(m.Attributes) > 0 {
		input.MessageAttributes = m.Attributes
	}
	if p.fifo {
		if m.GroupID == "" {
			return "", fmt.Errorf("send message: fifo queue %s needs a group id", p.queueURL)
		}
		input.MessageGroupId = &m.GroupID
		if m.DedupID != "" {
			input.MessageDeduplicationId = &m.DedupID
		}
	}

	out, err := p.sqs.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// StringAttribute builds a String message attribute.
func StringAttribute(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{
		DataType:    awsString("String"),
		StringValue: awsString(v),
	}
}

func awsString(s string) *string { return &s }
