//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis(t *testing.T) {
	l := NewRedis(setupRedis(t), "test:")
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "batch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, got ok=%v err=%v", ok, err)
	}

	if _, ok, err := l.Acquire(ctx, "batch", time.Minute); err != nil || ok {
		t.Fatalf("expected contended acquire to fail cleanly, got ok=%v err=%v", ok, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if _, ok, _ := l.Acquire(ctx, "batch", time.Minute); !ok {
		t.Error("expected acquire to succeed after release")
	}
}
