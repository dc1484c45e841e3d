package events

import (
	"context"
	"fmt"
	"strconv"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/campus-orderflow/internal/aws"
)

// SQSSink sends events as JSON messages with type, target and status attributes.
// On a FIFO queue events are grouped by target, so each café sees its orders in order.
type SQSSink struct {
	pub *aws.Publisher
}

var _ Sink = (*SQSSink)(nil)

func NewSQSSink(pub *aws.Publisher) *SQSSink {
	return &SQSSink{pub: pub}
}

func (s *SQSSink) Publish(ctx context.Context, e Event) error {
	body, err := e.marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.pub.Send(ctx, aws.Message{
		Body:       string(body),
		Attributes: messageAttributes(e),
		GroupID:    e.TargetID,
		DedupID:    string(e.Type) + ":" + e.OrderID + ":" + strconv.FormatInt(e.At.UnixMicro(), 10),
	})
	if err != nil {
		return fmt.Errorf("publish %s for order %s: %w", e.Type, e.OrderID, err)
	}
	return nil
}

// messageAttributes skips empty values; SQS rejects them.
func messageAttributes(e Event) map[string]sqstypes.MessageAttributeValue {
	out := make(map[string]sqstypes.MessageAttributeValue)
	for k, v := range e.attributes() {
		if v != "" {
			out[k] = aws.StringAttribute(v)
		}
	}
	return out
}
