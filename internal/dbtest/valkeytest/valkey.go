// Package valkeytest starts disposable valkey instances for tests.
package valkeytest

import (
	"context"
	"net"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const image = "valkey/valkey:8-alpine"

// Start runs a valkey container for the lifetime of t and returns a
// connected client and the mapped port. Client and container are released
// by t.Cleanup.
func Start(t testing.TB) (valkey.Client, nat.Port) {
	t.Helper()

	ctx := context.Background()

	valkeyContainer, err := valkeycontainer.Run(ctx, image)
	if err != nil {
		t.Fatalf("starting valkey container: %s", err)
	}

	t.Cleanup(func() {
		if err := valkeyContainer.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate ValKey container", "error", err)
		}
	})

	port, err := valkeyContainer.MappedPort(ctx, nat.Port("6379"))
	if err != nil {
		t.Fatalf("mapping valkey port: %s", err)
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{net.JoinHostPort("localhost", port.Port())},
	})
	if err != nil {
		t.Fatalf("creating valkey client: %s", err)
	}
	t.Cleanup(client.Close)

	return client, port
}
