package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// StartContainer starts req and terminates it when the test ends. The test
// is skipped in short mode or when docker cannot be reached.
func StartContainer(t testing.TB, req testcontainers.ContainerRequest) testcontainers.Container {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	var (
		container testcontainers.Container
		err       error
	)
	func() {
		// testcontainers panics when it cannot find a docker host
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		container, err = testcontainers.GenericContainer(
			context.Background(),
			testcontainers.GenericContainerRequest{
				Started:          true,
				ContainerRequest: req,
			},
		)
	}()
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	t.Cleanup(func() {
		err := container.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	})
	return container
}

// Endpoint returns host:port of the given exposed container port.
func Endpoint(t testing.TB, container testcontainers.Container, port string) string {
	ctx := context.Background()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}
