package main

import (
	"testing"
)

func TestRun_LocalCommandAgainstMemoryBackend(t *testing.T) {
	t.Setenv("BACKEND_DRIVER", "memory")
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("LOCAL_SQS_BODY", `{"order_id":"missing","status":"confirmed"}`)

	// an unknown order is dropped, not retried
	if err := run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_ReturnsWiringErrors(t *testing.T) {
	t.Setenv("BACKEND_DRIVER", "postgres")
	t.Setenv("BACKEND_POSTGRES_DSN", "postgres://orderflow@127.0.0.1:1/orderflow?sslmode=disable&connect_timeout=1")
	t.Setenv("RUN_LOCAL", "true")

	if err := run(); err == nil {
		t.Fatalf("expected an error for an unreachable database")
	}
}

func TestRun_ReturnsConfigErrors(t *testing.T) {
	t.Setenv("BACKEND_DRIVER", "sqlite")

	if err := run(); err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
}
