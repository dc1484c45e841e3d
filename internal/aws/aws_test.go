package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	id := fmt.Sprintf("m-%d", len(m.inputs))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublisher_StandardQueue(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/orders")
	if p.FIFO() {
		t.Fatalf("standard queue reported as fifo")
	}

	id, err := p.Send(context.Background(), Message{
		Body:       `{"order_id":"o1"}`,
		Attributes: map[string]sqstypes.MessageAttributeValue{"order_id": StringAttribute("o1")},
		GroupID:    "cafe-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "m-1" {
		t.Fatalf("expected message id m-1, got %q", id)
	}
	in := mock.inputs[0]
	if in.MessageGroupId != nil {
		t.Fatalf("group id must not be sent to a standard queue")
	}
	if v := in.MessageAttributes["order_id"].StringValue; v == nil || *v != "o1" {
		t.Fatalf("order_id attribute mismatch: %+v", in.MessageAttributes["order_id"])
	}
}

func TestPublisher_FIFOQueue(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/orders.fifo")

	if _, err := p.Send(context.Background(), Message{Body: "{}"}); err == nil {
		t.Fatalf("expected error for missing group id")
	}
	if len(mock.inputs) != 0 {
		t.Fatalf("nothing should be sent without a group id")
	}

	if _, err := p.Send(context.Background(), Message{Body: "{}", GroupID: "cafe-1", DedupID: "d-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := mock.inputs[0]
	if *in.MessageGroupId != "cafe-1" || *in.MessageDeduplicationId != "d-1" {
		t.Fatalf("fifo ids mismatch: %v %v", *in.MessageGroupId, *in.MessageDeduplicationId)
	}
}

func TestPublisher_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&mockSQS{err: boom}, "q")
	if _, err := p.Send(context.Background(), Message{Body: "{}"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestMetricsReporter_Publish(t *testing.T) {
	cw := &mockCloudWatch{}
	r := NewMetricsReporter(cw, "CampusOrderflow", map[string]string{"Pool": "orders"}, func() []Gauge {
		return []Gauge{
			{Name: "PoolInUse", Value: 3},
			{Name: "PoolUtilization", Value: 60, Percent: true},
		}
	}, zap.NewNop().Sugar())
	r.nowFunc = func() time.Time { return time.Unix(100, 0) }

	if err := r.Publish(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.inputs))
	}
	data := cw.inputs[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected 2 datums, got %d", len(data))
	}
	if data[1].Unit != cwtypes.StandardUnitPercent {
		t.Fatalf("expected percent unit, got %s", data[1].Unit)
	}
	if len(data[0].Dimensions) != 1 || *data[0].Dimensions[0].Name != "Pool" {
		t.Fatalf("dimension missing: %+v", data[0].Dimensions)
	}
}
