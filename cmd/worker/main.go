package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/campus-orderflow/internal/app"
	"github.com/imrishuroy/campus-orderflow/internal/config"
	"github.com/imrishuroy/campus-orderflow/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Errorw("failed to wire app", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warnw("close failed", "error", err)
		}
	}()

	p := NewProcessor(a.Service, log)

	// With RUN_LOCAL=true a single command from LOCAL_SQS_BODY is applied and the process exits.
	if cfg.HTTP.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1","status":"confirmed"}`
		}
		resp, _ := p.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if n := len(resp.BatchItemFailures); n > 0 {
			return fmt.Errorf("local command failed: %d message(s) would be retried", n)
		}
		return nil
	}

	lambda.Start(p.Handle)
	return nil
}
