package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pixperk/flowkey/pkg/config"
	"github.com/pixperk/flowkey/pkg/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "localhost:9000", dialAddr(":9000"))
	assert.Equal(t, "localhost:9000", dialAddr("0.0.0.0:9000"))
	assert.Equal(t, "10.0.0.5:9000", dialAddr("10.0.0.5:9000"))
}

func TestRunReportsToTrackingService(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/engine/update-run", r.URL.Path)
		assert.Equal(t, "Bearer engine-token", r.Header.Get("Authorization"))
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = config.Default()
	cfg.InternalAPIURL = srv.URL
	cfg.EngineToken = "engine-token"

	var out bytes.Buffer
	cmd := runCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--run-id", "run-1", "--steps", "2", "--parallel", "2", "--delay", "1ms"})
	require.NoError(t, cmd.Execute())

	//four steps plus the final status
	assert.Equal(t, int32(5), posts.Load())

	var snap execution.Snapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, execution.RunSucceeded, snap.Details.Status)
	assert.Len(t, snap.Details.Steps, 4)
}

func TestRunRejectsUnknownUpdateType(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = config.Default()

	cmd := runCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--update-type", "EMAIL"})
	assert.ErrorContains(t, cmd.Execute(), "EMAIL")
}

func TestAcquireOnMemoryBackend(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = config.Default()
	cfg.Backend = config.BackendMemory

	var out bytes.Buffer
	cmd := acquireCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"project_plan:p1", "--hold", "10ms"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "acquired project_plan:p1")
	assert.Contains(t, out.String(), "releasing project_plan:p1")
}
