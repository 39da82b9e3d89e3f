package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
	"github.com/high-horse/fingerprint-server/internal/reader"
	"github.com/high-horse/fingerprint-server/internal/server"
)

func TestServeStopsOnSignalAndReleasesReader(t *testing.T) {
	frames := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(frames, fingerprint.FamilyControlID), 0o755))

	catalog, err := fingerprint.NewCatalog(fingerprint.DefaultProfiles())
	require.NoError(t, err)
	registry := fingerprint.NewRegistry(catalog, nil, fingerprint.SessionOptions{})
	reader.Register(registry, reader.Options{FramesDir: frames})
	app := server.New(server.Options{Registry: registry})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sigCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(app, ln, registry, 2*time.Second, zap.NewNop(), sigCh)
	}()

	base := fmt.Sprintf("http://%s", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/fingerprint/init?modelId=1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after signal")
	}

	_, err = registry.Active()
	assert.ErrorIs(t, err, fingerprint.ErrReaderNotConnected)
	assert.NoError(t, registry.Close(context.Background()))
}
