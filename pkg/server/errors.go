package server

import (
	"context"
	"errors"

	"github.com/pixperk/flowkey/pkg/raft"
	"github.com/pixperk/flowkey/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrLockNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, types.ErrLockAlreadyHeld):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, types.ErrLockExpired):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrNotLockOwner):
		return status.Error(codes.PermissionDenied, err.Error())

	case errors.Is(err, types.ErrInvalidTTL), errors.Is(err, types.ErrInvalidKey), errors.Is(err, types.ErrInvalidHolder):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, raft.ErrNotLeader):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// returns a not leader error with the given leader address
func notLeaderError(leaderAddr string) error {
	return status.Errorf(codes.Unavailable, "not leader, leader is at %q", leaderAddr)
}
