package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/grpcserver"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "sync", "token"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestSyncCmd_RequiresExactlyOneTarget(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"neither", []string{"sync"}},
		{"both", []string{"sync", "--user", "user_1", "--all"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tc.args)
			err := root.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "exactly one of --user or --all")
		})
	}
}

func TestTokenCmd_MintsVerifiableToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/sitterhub_test")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("AUTH_JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--user", "ops_1", "--role", auth.RoleAdmin, "--ttl", "5m"})
	require.NoError(t, root.Execute())

	p, err := auth.NewVerifier("cli-secret").Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops_1", p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestTokenCmd_RequiresUser(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")
}

func TestRunServers_ServingOnceBound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServers(ctx, logger, handler, grpcserver.New(logger), httpLis, grpcLis) }()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	assert.Eventually(t, func() bool {
		callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: grpcserver.BillingServiceName})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("servers did not stop")
	}
}
