package httptransport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(DefaultServerConfig("127.0.0.1:0"), http.NotFoundHandler(), zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenError(t *testing.T) {
	srv := NewServer(DefaultServerConfig("127.0.0.1:-1"), http.NotFoundHandler(), nil)
	require.Error(t, srv.Serve(context.Background()))
}
