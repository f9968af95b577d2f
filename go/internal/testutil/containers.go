//go:build integration

// Package testutil starts the backing services integration tests run against.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres starts a throwaway Postgres and returns its DSN. The container is
// terminated when the test ends.
func Postgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("duelpad"),
		postgres.WithUsername("duelpad"),
		postgres.WithPassword("duelpad"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(45*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse postgres connection string: %v", err)
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// NATS starts a JetStream-enabled NATS server and returns its URL.
func NATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := tcnats.Run(ctx,
		"nats:2.10-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("Server is ready"),
				wait.ForListeningPort("4222/tcp"),
			).WithDeadline(45*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start nats container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("terminate nats container: %v", err)
		}
	})

	natsURL, err := c.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("nats connection string: %v", err)
	}
	return natsURL
}

// Unique returns name with a nanosecond suffix, for per-test streams and buckets.
func Unique(name string) string {
	return fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
}
