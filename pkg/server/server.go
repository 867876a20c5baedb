package server

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	hraft "github.com/hashicorp/raft"
	pb "github.com/pixperk/flowkey/api/v1"
	"github.com/pixperk/flowkey/pkg/fsm"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/raft"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// what the service needs from a replicated lock node
type Node interface {
	lock.Store
	IsLeader() bool
	GetLeader() string
	GetNodeID() uuid.UUID
	GetClusterSize() int
	GetState() hraft.RaftState
	Stats() fsm.Stats
	Join(nodeID, addr string) error
}

var (
	_ Node                 = (*raft.Node)(nil)
	_ pb.LockServiceServer = (*Server)(nil)
)

type Server struct {
	node   Node
	logger *slog.Logger
}

// wraps the raft node into a gRPC server
func NewServer(node Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:   node,
		logger: logger,
	}
}

func (s *Server) Acquire(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	req, err := pb.AcquireRequestFromStruct(in)
	if err != nil {
		return nil, toGRPCError(err)
	}

	claim, err := s.node.TryAcquire(ctx, req.Key, req.Holder, req.TTL)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return pb.LockToStruct(claim), nil
}

func (s *Server) Release(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	req := pb.ReleaseRequestFromStruct(in)
	if err := s.node.Release(ctx, req.Key, req.Holder); err != nil {
		return nil, toGRPCError(err)
	}

	return pb.ReleaseResponse{Released: true}.ToStruct(), nil
}

func (s *Server) Renew(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	req, err := pb.RenewRequestFromStruct(in)
	if err != nil {
		return nil, toGRPCError(err)
	}

	claim, err := s.node.Renew(ctx, req.Key, req.Holder, req.TTL)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return pb.LockToStruct(claim), nil
}

func (s *Server) Join(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.GetLeader())
	}

	req := pb.JoinRequestFromStruct(in)
	if req.NodeID == "" || req.Addr == "" {
		return nil, status.Error(codes.InvalidArgument, "node_id and addr are required")
	}

	if err := s.node.Join(req.NodeID, req.Addr); err != nil {
		s.logger.Warn("join failed", "peer_id", req.NodeID, "peer_addr", req.Addr, "error", err)
		return nil, toGRPCError(err)
	}

	return &structpb.Struct{}, nil
}

func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats := s.node.Stats()

	return pb.StatusResponse{
		NodeID:         s.node.GetNodeID().String(),
		IsLeader:       s.node.IsLeader(),
		LeaderAddress:  s.node.GetLeader(),
		ClusterSize:    s.node.GetClusterSize(),
		State:          s.node.GetState().String(),
		Locks:          stats.Locks,
		FencingCounter: stats.FencingCounter,
	}.ToStruct(), nil
}
