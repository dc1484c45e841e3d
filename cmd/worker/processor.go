package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/orders"
)

// StatusUpdater applies one status change. *ingestion.Service satisfies it.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID string, next orders.Status) (*orders.Order, error)
}

// Processor applies status commands from an SQS batch.
type Processor struct {
	updater StatusUpdater
	log     *zap.SugaredLogger
}

func NewProcessor(updater StatusUpdater, log *zap.SugaredLogger) *Processor {
	return &Processor{updater: updater, log: log}
}

// Handle reports retryable failures per message so the rest of the batch is not redelivered.
// Commands that can never succeed are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Warnw("status command failed, will retry", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var cmd StatusCommand
	if err := json.Unmarshal([]byte(rec.Body), &cmd); err != nil {
		p.log.Errorw("dropping malformed status command", "message_id", rec.MessageId, "error", err)
		return nil
	}
	log := p.log.With("order_id", cmd.OrderID, "correlation_id", cmd.CorrelationID)

	next, err := orders.ParseStatus(cmd.Status)
	if err != nil {
		log.Errorw("dropping status command", "error", err)
		return nil
	}

	_, err = p.updater.UpdateStatus(ctx, cmd.OrderID, next)
	switch {
	case err == nil:
		log.Infow("status applied", "status", next)
		return nil
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrInvalidTransition):
		// duplicates land here once the order has moved on
		log.Warnw("dropping status command", "status", next, "error", err)
		return nil
	default:
		return err
	}
}
