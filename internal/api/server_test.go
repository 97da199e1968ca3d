package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scengen/pkg/config"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	router := http.NewServeMux()
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})

	srv := New(&config.Config{Port: "0", Env: "development"}, nil, router)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done, "Serve returns nil after Shutdown")
}

func TestDefaultTimeouts(t *testing.T) {
	to := DefaultTimeouts()
	assert.Greater(t, to.Write, to.Read, "synchronous runs need a longer write window")

	srv := NewWithTimeouts(&config.Config{Port: "8089"}, nil, http.NewServeMux(), to)
	assert.Equal(t, ":8089", srv.httpServer.Addr)
	assert.Equal(t, to.ReadHeader, srv.httpServer.ReadHeaderTimeout)
}
