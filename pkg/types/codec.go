package types

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// wire helpers shared by the raft log and the gRPC service
// integers that may exceed 2^53 and timestamps travel as strings,
// structpb numbers are float64

// serializes a command for the raft log
func EncodeCommand(cmd Command) ([]byte, error) {
	fields := map[string]any{"type": float64(cmd.Type())}

	switch c := cmd.(type) {
	case AcquireLockCmd:
		fields["key"] = c.Key
		fields["holder"] = c.Holder
		fields["ttl"] = c.TTL.String()
		fields["now"] = formatTime(c.Now)
	case RenewLockCmd:
		fields["key"] = c.Key
		fields["holder"] = c.Holder
		fields["ttl"] = c.TTL.String()
		fields["now"] = formatTime(c.Now)
	case ReleaseLockCmd:
		fields["key"] = c.Key
		fields["holder"] = c.Holder
	case ExpireLockCmd:
		fields["key"] = c.Key
		fields["fencing_token"] = strconv.FormatUint(c.FencingToken, 10)
		fields["now"] = formatTime(c.Now)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build command struct: %w", err)
	}
	return proto.Marshal(s)
}

// deserializes a command written by EncodeCommand
func DecodeCommand(data []byte) (Command, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	f := s.GetFields()

	switch CommandType(f["type"].GetNumberValue()) {
	case CommandTypeAcquireLock:
		ttl, now, err := ttlAndNow(f)
		if err != nil {
			return nil, err
		}
		return AcquireLockCmd{Key: str(f, "key"), Holder: str(f, "holder"), TTL: ttl, Now: now}, nil
	case CommandTypeRenewLock:
		ttl, now, err := ttlAndNow(f)
		if err != nil {
			return nil, err
		}
		return RenewLockCmd{Key: str(f, "key"), Holder: str(f, "holder"), TTL: ttl, Now: now}, nil
	case CommandTypeReleaseLock:
		return ReleaseLockCmd{Key: str(f, "key"), Holder: str(f, "holder")}, nil
	case CommandTypeExpireLock:
		token, err := strconv.ParseUint(str(f, "fencing_token"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse fencing token: %w", err)
		}
		now, err := parseTime(str(f, "now"))
		if err != nil {
			return nil, err
		}
		return ExpireLockCmd{Key: str(f, "key"), FencingToken: token, Now: now}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCommand, f["type"].GetNumberValue())
	}
}

// converts a lock into a protobuf struct for the gRPC service
func LockToProto(l Lock) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":           structpb.NewStringValue(l.Key),
		"holder":        structpb.NewStringValue(l.Holder),
		"fencing_token": structpb.NewStringValue(strconv.FormatUint(l.FencingToken, 10)),
		"acquired_at":   structpb.NewStringValue(formatTime(l.AcquiredAt)),
		"ttl":           structpb.NewStringValue(l.TTL.String()),
		"expires_at":    structpb.NewStringValue(formatTime(l.ExpiresAt)),
	}}
}

// reverse of LockToProto
func LockFromProto(s *structpb.Struct) (Lock, error) {
	f := s.GetFields()

	token, err := strconv.ParseUint(str(f, "fencing_token"), 10, 64)
	if err != nil {
		return Lock{}, fmt.Errorf("parse fencing token: %w", err)
	}
	ttl, err := time.ParseDuration(str(f, "ttl"))
	if err != nil {
		return Lock{}, fmt.Errorf("parse ttl: %w", err)
	}
	acquiredAt, err := parseTime(str(f, "acquired_at"))
	if err != nil {
		return Lock{}, err
	}
	expiresAt, err := parseTime(str(f, "expires_at"))
	if err != nil {
		return Lock{}, err
	}

	return Lock{
		Key:          str(f, "key"),
		Holder:       str(f, "holder"),
		FencingToken: token,
		AcquiredAt:   acquiredAt,
		TTL:          ttl,
		ExpiresAt:    expiresAt,
	}, nil
}

func ttlAndNow(f map[string]*structpb.Value) (time.Duration, time.Time, error) {
	ttl, err := time.ParseDuration(str(f, "ttl"))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ttl: %w", err)
	}
	now, err := parseTime(str(f, "now"))
	if err != nil {
		return 0, time.Time{}, err
	}
	return ttl, now, nil
}

func str(f map[string]*structpb.Value, name string) string {
	return f[name].GetStringValue()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}
