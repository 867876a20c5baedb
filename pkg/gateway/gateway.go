// Package gateway exposes the lock service over HTTP/JSON by proxying each
// request to the gRPC endpoint, and serves the node's metrics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	pb "github.com/pixperk/flowkey/api/v1"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxBodyBytes = 1 << 20

// LockAPI is the subset of the gRPC client the gateway forwards to.
type LockAPI interface {
	Acquire(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Release(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Renew(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type Server struct {
	httpServer *http.Server
	grpcAddr   string
	logger     *slog.Logger
	conn       *grpc.ClientConn
}

func NewServer(httpAddr, grpcAddr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr: httpAddr,
		},
		grpcAddr: grpcAddr,
		logger:   logger,
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial grpc endpoint: %w", err)
	}
	s.conn = conn

	s.httpServer.Handler = NewHandler(pb.NewLockServiceClient(conn), s.logger)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.conn != nil {
		s.conn.Close()
	}
	return err
}

// NewHandler routes the JSON API onto api, plus /metrics and /healthz.
func NewHandler(api LockAPI, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/locks/acquire", forward(api.Acquire, logger))
	mux.Handle("POST /v1/locks/release", forward(api.Release, logger))
	mux.Handle("POST /v1/locks/renew", forward(api.Renew, logger))
	mux.Handle("GET /v1/status", forward(api.Status, logger))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})
	return mux
}

type unaryFunc func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

func forward(call unaryFunc, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in := &structpb.Struct{}
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, codes.InvalidArgument, "read body: "+err.Error())
				return
			}
			if len(body) > 0 {
				if err := protojson.Unmarshal(body, in); err != nil {
					writeError(w, http.StatusBadRequest, codes.InvalidArgument, "decode body: "+err.Error())
					return
				}
			}
		}

		out, err := call(r.Context(), in)
		if err != nil {
			st := status.Convert(err)
			logger.Debug("gateway call failed", "path", r.URL.Path, "code", st.Code().String(), "error", st.Message())
			writeError(w, HTTPStatusFromCode(st.Code()), st.Code(), st.Message())
			return
		}

		data, err := protojson.Marshal(out)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codes.Internal, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, httpStatus int, code codes.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(errorBody{Code: code.String(), Message: msg})
}

// HTTPStatusFromCode maps a gRPC code to the HTTP status the gateway replies with.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
