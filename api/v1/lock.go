// Package lockv1 describes the flowkey.v1.LockService gRPC API. Every
// message travels as a google.protobuf.Struct, so the service needs no
// generated code.
package lockv1

import (
	"fmt"
	"time"

	"github.com/pixperk/flowkey/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

type AcquireRequest struct {
	Key    string
	Holder string
	TTL    time.Duration
}

func (r AcquireRequest) ToStruct() *structpb.Struct {
	return claimRequest(r.Key, r.Holder, r.TTL)
}

func AcquireRequestFromStruct(s *structpb.Struct) (AcquireRequest, error) {
	key, holder, ttl, err := parseClaimRequest(s)
	return AcquireRequest{Key: key, Holder: holder, TTL: ttl}, err
}

type RenewRequest struct {
	Key    string
	Holder string
	TTL    time.Duration
}

func (r RenewRequest) ToStruct() *structpb.Struct {
	return claimRequest(r.Key, r.Holder, r.TTL)
}

func RenewRequestFromStruct(s *structpb.Struct) (RenewRequest, error) {
	key, holder, ttl, err := parseClaimRequest(s)
	return RenewRequest{Key: key, Holder: holder, TTL: ttl}, err
}

type ReleaseRequest struct {
	Key    string
	Holder string
}

func (r ReleaseRequest) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":    structpb.NewStringValue(r.Key),
		"holder": structpb.NewStringValue(r.Holder),
	}}
}

func ReleaseRequestFromStruct(s *structpb.Struct) ReleaseRequest {
	f := s.GetFields()
	return ReleaseRequest{Key: f["key"].GetStringValue(), Holder: f["holder"].GetStringValue()}
}

type ReleaseResponse struct {
	Released bool
}

func (r ReleaseResponse) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"released": structpb.NewBoolValue(r.Released),
	}}
}

func ReleaseResponseFromStruct(s *structpb.Struct) ReleaseResponse {
	return ReleaseResponse{Released: s.GetFields()["released"].GetBoolValue()}
}

type JoinRequest struct {
	NodeID string
	Addr   string
}

func (r JoinRequest) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"node_id": structpb.NewStringValue(r.NodeID),
		"addr":    structpb.NewStringValue(r.Addr),
	}}
}

func JoinRequestFromStruct(s *structpb.Struct) JoinRequest {
	f := s.GetFields()
	return JoinRequest{NodeID: f["node_id"].GetStringValue(), Addr: f["addr"].GetStringValue()}
}

type StatusResponse struct {
	NodeID         string
	IsLeader       bool
	LeaderAddress  string
	ClusterSize    int
	State          string
	Locks          int
	FencingCounter uint64
}

func (r StatusResponse) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"node_id":         structpb.NewStringValue(r.NodeID),
		"is_leader":       structpb.NewBoolValue(r.IsLeader),
		"leader_address":  structpb.NewStringValue(r.LeaderAddress),
		"cluster_size":    structpb.NewNumberValue(float64(r.ClusterSize)),
		"state":           structpb.NewStringValue(r.State),
		"locks":           structpb.NewNumberValue(float64(r.Locks)),
		"fencing_counter": structpb.NewStringValue(fmt.Sprintf("%d", r.FencingCounter)),
	}}
}

func StatusResponseFromStruct(s *structpb.Struct) (StatusResponse, error) {
	f := s.GetFields()
	var counter uint64
	if v := f["fencing_counter"].GetStringValue(); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &counter); err != nil {
			return StatusResponse{}, fmt.Errorf("invalid fencing_counter %q: %w", v, err)
		}
	}
	return StatusResponse{
		NodeID:         f["node_id"].GetStringValue(),
		IsLeader:       f["is_leader"].GetBoolValue(),
		LeaderAddress:  f["leader_address"].GetStringValue(),
		ClusterSize:    int(f["cluster_size"].GetNumberValue()),
		State:          f["state"].GetStringValue(),
		Locks:          int(f["locks"].GetNumberValue()),
		FencingCounter: counter,
	}, nil
}

// lock replies reuse the raft codec
func LockToStruct(l types.Lock) *structpb.Struct { return types.LockToProto(l) }

func LockFromStruct(s *structpb.Struct) (types.Lock, error) { return types.LockFromProto(s) }

func claimRequest(key, holder string, ttl time.Duration) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":    structpb.NewStringValue(key),
		"holder": structpb.NewStringValue(holder),
		"ttl":    structpb.NewStringValue(ttl.String()),
	}}
}

func parseClaimRequest(s *structpb.Struct) (key, holder string, ttl time.Duration, err error) {
	f := s.GetFields()
	key = f["key"].GetStringValue()
	holder = f["holder"].GetStringValue()
	raw := f["ttl"].GetStringValue()
	if raw == "" {
		return key, holder, 0, types.ErrInvalidTTL
	}
	ttl, err = time.ParseDuration(raw)
	if err != nil {
		return key, holder, 0, fmt.Errorf("%w: %q", types.ErrInvalidTTL, raw)
	}
	return key, holder, ttl, nil
}

func StatusRequest() *structpb.Struct { return &structpb.Struct{} }
