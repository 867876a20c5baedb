package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pixperk/flowkey/pkg/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path   string
	auth   string
	ctype  string
	update Update
}

func newTrackingServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, captured{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			update: u,
		})
		mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "run not found", status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

// TestThreeStepRun tests that each POST carries a superset of the previous steps
func TestThreeStepRun(t *testing.T) {
	srv, received := newTrackingServer(t, http.StatusOK)

	sink, err := NewHTTPSink(srv.URL+"/", "engine-token")
	require.NoError(t, err)
	d := NewDispatcher(sink, WithLogger(testLogger()))

	acc := execution.NewAccumulator("run-1")
	request := "req-9"
	meta := Meta{HTTPRequestID: &request, UpdateType: UpdateTestFlow}

	for _, step := range []string{"step_1", "step_2", "step_3"} {
		acc.RecordStep(execution.StepResult{Name: step, Status: execution.StepSucceeded})
		require.NoError(t, d.Submit(context.Background(), "run-1", acc, meta))
	}

	got := received()
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, "/v1/engine/update-run", c.path)
		assert.Equal(t, "Bearer engine-token", c.auth)
		assert.Equal(t, "application/json", c.ctype)
		assert.Equal(t, "run-1", c.update.RunID)
		assert.Nil(t, c.update.WorkerHandlerID)
		require.NotNil(t, c.update.HTTPRequestID)
		assert.Equal(t, "req-9", *c.update.HTTPRequestID)
		assert.Equal(t, UpdateTestFlow, c.update.ProgressUpdateType)
		require.Len(t, c.update.RunDetails.Steps, i+1)
		if i > 0 {
			assert.Equal(t, got[i-1].update.RunDetails.Steps, c.update.RunDetails.Steps[:i], "each update extends the previous one")
		}
	}
}

func TestHTTPSinkRejectedUpdate(t *testing.T) {
	srv, _ := newTrackingServer(t, http.StatusNotFound)

	sink, err := NewHTTPSink(srv.URL, "token")
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), Update{RunID: "run-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "run not found", statusErr.Body)
}

func TestHTTPSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink, err := NewHTTPSink(url, "token")
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), Update{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestNewHTTPSink(t *testing.T) {
	sink, err := NewHTTPSink("http://api:3000/", "t")
	require.NoError(t, err)
	assert.Equal(t, "http://api:3000/v1/engine/update-run", sink.URL())

	sink, err = NewHTTPSink("http://api:3000/api", "t")
	require.NoError(t, err)
	assert.Equal(t, "http://api:3000/api/v1/engine/update-run", sink.URL())

	_, err = NewHTTPSink("", "t")
	assert.Error(t, err)

	_, err = NewHTTPSink("ftp://api", "t")
	assert.Error(t, err)
}
