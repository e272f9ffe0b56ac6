// Package redistest starts a shared Redis container for integration tests.
// Tests skip when Docker is not available.
package redistest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	once           sync.Once
	testClient     *redis.Client
	skipRedisTests bool
)

func setupRedis() {
	ctx := context.Background()

	var (
		container    testcontainers.Container
		containerErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		fmt.Printf("Docker not available, Redis tests will be skipped: %v\n", containerErr)
		skipRedisTests = true
		return
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		skipRedisTests = true
		return
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Printf("Failed to get container port: %v\n", err)
		skipRedisTests = true
		return
	}
	testClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	if err := testClient.Ping(ctx).Err(); err != nil {
		fmt.Printf("Failed to ping redis: %v\n", err)
		skipRedisTests = true
	}
}

// Client returns the shared Redis client after flushing its database. It
// skips the test when Docker or Redis is unavailable.
func Client(t *testing.T) *redis.Client {
	t.Helper()
	once.Do(setupRedis)
	if skipRedisTests {
		t.Skip("Docker not available, skipping Redis test")
	}
	if err := testClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testClient
}
