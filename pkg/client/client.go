package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pb "github.com/pixperk/flowkey/api/v1"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var _ lock.Store = (*Client)(nil)

// returned when the node is not the leader or cannot be reached
var ErrUnavailable = errors.New("lock service unavailable")

// a lock.Store backed by a remote flowkey node
type Client struct {
	conn *grpc.ClientConn
	api  *pb.LockServiceClient
}

func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		conn: conn,
		api:  pb.NewLockServiceClient(conn),
	}, nil
}

func (c *Client) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	resp, err := c.api.Acquire(ctx, pb.AcquireRequest{Key: key, Holder: holder, TTL: ttl}.ToStruct())
	if err != nil {
		return types.Lock{}, fromGRPCError(err)
	}
	return pb.LockFromStruct(resp)
}

func (c *Client) Release(ctx context.Context, key, holder string) error {
	_, err := c.api.Release(ctx, pb.ReleaseRequest{Key: key, Holder: holder}.ToStruct())
	return fromGRPCError(err)
}

func (c *Client) Renew(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	resp, err := c.api.Renew(ctx, pb.RenewRequest{Key: key, Holder: holder, TTL: ttl}.ToStruct())
	if err != nil {
		return types.Lock{}, fromGRPCError(err)
	}
	return pb.LockFromStruct(resp)
}

func (c *Client) Status(ctx context.Context) (pb.StatusResponse, error) {
	resp, err := c.api.Status(ctx, pb.StatusRequest())
	if err != nil {
		return pb.StatusResponse{}, fromGRPCError(err)
	}
	return pb.StatusResponseFromStruct(resp)
}

// asks the leader to add a raft voter
func (c *Client) Join(ctx context.Context, nodeID, raftAddr string) error {
	_, err := c.api.Join(ctx, pb.JoinRequest{NodeID: nodeID, Addr: raftAddr}.ToStruct())
	return fromGRPCError(err)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// maps gRPC status codes back onto the lock sentinels
func fromGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	msg := st.Message()
	switch st.Code() {
	case codes.NotFound:
		return types.ErrLockNotFound
	case codes.AlreadyExists:
		return types.ErrLockAlreadyHeld
	case codes.FailedPrecondition:
		return types.ErrLockExpired
	case codes.PermissionDenied:
		return types.ErrNotLockOwner
	case codes.InvalidArgument:
		for _, sentinel := range []error{types.ErrInvalidTTL, types.ErrInvalidKey, types.ErrInvalidHolder} {
			if strings.HasPrefix(msg, sentinel.Error()) {
				return fmt.Errorf("%w: %s", sentinel, msg)
			}
		}
		return err
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, msg)
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, msg)
	default:
		return err
	}
}
