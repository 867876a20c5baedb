package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeAPI struct {
	lastIn *structpb.Struct
	err    error
}

func (f *fakeAPI) reply(in *structpb.Struct, fields map[string]any) (*structpb.Struct, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return structpb.NewStruct(fields)
}

func (f *fakeAPI) Acquire(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return f.reply(in, map[string]any{"key": in.GetFields()["key"].GetStringValue(), "fencing_token": "7"})
}

func (f *fakeAPI) Release(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return f.reply(in, map[string]any{"released": true})
}

func (f *fakeAPI) Renew(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return f.reply(in, map[string]any{"key": "k"})
}

func (f *fakeAPI) Status(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return f.reply(in, map[string]any{"is_leader": true, "cluster_size": 3})
}

func newTestGateway(api LockAPI) *httptest.Server {
	srv := httptest.NewServer(NewHandler(api, slog.New(slog.NewTextHandler(io.Discard, nil))))
	return srv
}

func TestAcquireIsForwarded(t *testing.T) {
	api := &fakeAPI{}
	srv := newTestGateway(api)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/locks/acquire", "application/json",
		strings.NewReader(`{"key":"project_plan:p1","holder":"h1","ttl":"30s"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "h1", api.lastIn.GetFields()["holder"].GetStringValue())

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "project_plan:p1", body["key"])
	assert.Equal(t, "7", body["fencing_token"])
}

func TestStatus(t *testing.T) {
	srv := newTestGateway(&fakeAPI{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["is_leader"])
	assert.Equal(t, float64(3), body["cluster_size"])
}

func TestErrorsCarryHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{status.Error(codes.AlreadyExists, "lock already held"), http.StatusConflict},
		{status.Error(codes.NotFound, "lock not found"), http.StatusNotFound},
		{status.Error(codes.PermissionDenied, "not lock owner"), http.StatusForbidden},
		{status.Error(codes.Unavailable, "not the raft leader"), http.StatusServiceUnavailable},
		{status.Error(codes.InvalidArgument, "invalid ttl"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(status.Code(tt.err).String(), func(t *testing.T) {
			srv := newTestGateway(&fakeAPI{err: tt.err})
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/v1/locks/release", "application/json", strings.NewReader(`{"key":"k"}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, status.Code(tt.err).String(), body.Code)
			assert.Equal(t, status.Convert(tt.err).Message(), body.Message)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	api := &fakeAPI{}
	srv := newTestGateway(api)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/locks/renew", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, api.lastIn, "malformed requests never reach the lock service")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestGateway(&fakeAPI{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestWrongMethod(t *testing.T) {
	srv := newTestGateway(&fakeAPI{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/locks/acquire")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
