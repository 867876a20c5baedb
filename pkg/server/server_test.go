package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	hraft "github.com/hashicorp/raft"
	pb "github.com/pixperk/flowkey/api/v1"
	"github.com/pixperk/flowkey/pkg/fsm"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeNode serves locks from memory and lets tests flip leadership
type fakeNode struct {
	*lock.MemoryStore
	id      uuid.UUID
	leader  bool
	joined  map[string]string
	joinErr error
}

func newFakeNode(leader bool) *fakeNode {
	return &fakeNode{MemoryStore: lock.NewMemoryStore(nil), id: uuid.New(), leader: leader, joined: map[string]string{}}
}

func (f *fakeNode) IsLeader() bool { return f.leader }

func (f *fakeNode) GetLeader() string { return "10.0.0.1:7000" }

func (f *fakeNode) GetNodeID() uuid.UUID { return f.id }

func (f *fakeNode) GetClusterSize() int { return 3 }

func (f *fakeNode) GetState() hraft.RaftState {
	if f.leader {
		return hraft.Leader
	}
	return hraft.Follower
}

func (f *fakeNode) Stats() fsm.Stats { return fsm.Stats{Locks: 2, FencingCounter: 7} }

func (f *fakeNode) Join(nodeID, addr string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined[nodeID] = addr
	return nil
}

func dial(t *testing.T, node Node) *pb.LockServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	pb.RegisterLockServiceServer(srv, NewServer(node, slog.New(slog.NewTextHandler(io.Discard, nil))))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return pb.NewLockServiceClient(conn)
}

func TestAcquireReleaseOverGRPC(t *testing.T) {
	api := dial(t, newFakeNode(true))
	ctx := context.Background()

	resp, err := api.Acquire(ctx, pb.AcquireRequest{Key: "plan:p1", Holder: "h1", TTL: time.Second}.ToStruct())
	require.NoError(t, err)

	claim, err := pb.LockFromStruct(resp)
	require.NoError(t, err)
	assert.Equal(t, "plan:p1", claim.Key)
	assert.Equal(t, "h1", claim.Holder)
	assert.Equal(t, uint64(1), claim.FencingToken)

	_, err = api.Acquire(ctx, pb.AcquireRequest{Key: "plan:p1", Holder: "h2", TTL: time.Second}.ToStruct())
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = api.Release(ctx, pb.ReleaseRequest{Key: "plan:p1", Holder: "h2"}.ToStruct())
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err := api.Release(ctx, pb.ReleaseRequest{Key: "plan:p1", Holder: "h1"}.ToStruct())
	require.NoError(t, err)
	assert.True(t, pb.ReleaseResponseFromStruct(out).Released)

	_, err = api.Release(ctx, pb.ReleaseRequest{Key: "plan:p1", Holder: "h1"}.ToStruct())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRenewOverGRPC(t *testing.T) {
	api := dial(t, newFakeNode(true))
	ctx := context.Background()

	_, err := api.Acquire(ctx, pb.AcquireRequest{Key: "k", Holder: "h1", TTL: time.Second}.ToStruct())
	require.NoError(t, err)

	resp, err := api.Renew(ctx, pb.RenewRequest{Key: "k", Holder: "h1", TTL: time.Minute}.ToStruct())
	require.NoError(t, err)
	claim, err := pb.LockFromStruct(resp)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, claim.TTL)
}

func TestInvalidArguments(t *testing.T) {
	api := dial(t, newFakeNode(true))
	ctx := context.Background()

	_, err := api.Acquire(ctx, pb.AcquireRequest{Key: "", Holder: "h1", TTL: time.Second}.ToStruct())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = api.Acquire(ctx, pb.AcquireRequest{Key: "k", Holder: "h1", TTL: 0}.ToStruct())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = api.Join(ctx, pb.JoinRequest{NodeID: "n2"}.ToStruct())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestFollowerRejectsWrites(t *testing.T) {
	api := dial(t, newFakeNode(false))
	ctx := context.Background()

	_, err := api.Acquire(ctx, pb.AcquireRequest{Key: "k", Holder: "h1", TTL: time.Second}.ToStruct())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "10.0.0.1:7000")

	//status is served by any node
	resp, err := api.Status(ctx, pb.StatusRequest())
	require.NoError(t, err)
	st, err := pb.StatusResponseFromStruct(resp)
	require.NoError(t, err)
	assert.False(t, st.IsLeader)
	assert.Equal(t, "Follower", st.State)
}

func TestStatus(t *testing.T) {
	node := newFakeNode(true)
	api := dial(t, node)

	resp, err := api.Status(context.Background(), pb.StatusRequest())
	require.NoError(t, err)

	st, err := pb.StatusResponseFromStruct(resp)
	require.NoError(t, err)
	assert.Equal(t, pb.StatusResponse{
		NodeID:         node.id.String(),
		IsLeader:       true,
		LeaderAddress:  "10.0.0.1:7000",
		ClusterSize:    3,
		State:          "Leader",
		Locks:          2,
		FencingCounter: 7,
	}, st)
}

func TestJoin(t *testing.T) {
	node := newFakeNode(true)
	api := dial(t, node)

	_, err := api.Join(context.Background(), pb.JoinRequest{NodeID: "n2", Addr: "10.0.0.2:7000"}.ToStruct())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7000", node.joined["n2"])

	node.joinErr = errors.New("configuration change in progress")
	_, err = api.Join(context.Background(), pb.JoinRequest{NodeID: "n3", Addr: "10.0.0.3:7000"}.ToStruct())
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestToGRPCError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{types.ErrLockNotFound, codes.NotFound},
		{types.ErrLockAlreadyHeld, codes.AlreadyExists},
		{types.ErrLockExpired, codes.FailedPrecondition},
		{types.ErrNotLockOwner, codes.PermissionDenied},
		{types.ErrInvalidKey, codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk full"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, status.Code(toGRPCError(tc.err)), tc.err.Error())
	}
	assert.NoError(t, toGRPCError(nil))
}
