package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/app"
	"github.com/imrishuroy/campus-orderflow/internal/config"
	"github.com/imrishuroy/campus-orderflow/internal/handlers"
	"github.com/imrishuroy/campus-orderflow/internal/logger"
	"github.com/imrishuroy/campus-orderflow/internal/validation"
)

const shutdownTimeout = 10 * time.Second

func setupRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterRoutes(r, handlers.HandlerConfig{
		Service:     a.Service,
		Pool:        a.Pool,
		Manager:     a.Manager,
		Broadcaster: a.Broadcaster,
		Idempotency: a.Idempotency,
		Log:         a.Log,
	}, validation.New())

	return r
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
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

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := a.Start(ctx); err != nil {
		log.Errorw("failed to start app", "error", err)
		return err
	}

	r := setupRouter(a)

	// RUN_LOCAL=true serves HTTP directly for development.
	if cfg.HTTP.RunLocal {
		return runLocal(ctx, r, cfg.HTTP.Addr, log)
	}

	adapter := ginadapter.New(r)
	lambda.StartWithOptions(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}, lambda.WithEnableSIGTERM(stop))
	return nil
}

func runLocal(ctx context.Context, h http.Handler, addr string, log *zap.SugaredLogger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("shutdown failed", "error", err)
		}
	}()

	log.Infow("running local server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("local server failed", "error", err)
		return err
	}
	return nil
}
