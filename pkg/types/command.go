package types

import "time"

// type of FSM command
type CommandType uint

const (
	CommandTypeAcquireLock CommandType = iota + 1
	CommandTypeRenewLock
	CommandTypeReleaseLock
	CommandTypeExpireLock
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeAcquireLock:
		return "acquire_lock"
	case CommandTypeRenewLock:
		return "renew_lock"
	case CommandTypeReleaseLock:
		return "release_lock"
	case CommandTypeExpireLock:
		return "expire_lock"
	default:
		return "unknown"
	}
}

// interface all FSM commands implement
// commands that depend on time carry Now, stamped once by the proposer,
// so every replica applying the command reaches the same decision
type Command interface {
	Type() CommandType
}

// claims a lock if absent or expired
type AcquireLockCmd struct {
	Key    string
	Holder string
	TTL    time.Duration
	Now    time.Time
}

func (c AcquireLockCmd) Type() CommandType { return CommandTypeAcquireLock }

// extends a live lock still owned by holder
type RenewLockCmd struct {
	Key    string
	Holder string
	TTL    time.Duration
	Now    time.Time
}

func (c RenewLockCmd) Type() CommandType { return CommandTypeRenewLock }

// releases a lock, only if holder still matches
type ReleaseLockCmd struct {
	Key    string
	Holder string
}

func (c ReleaseLockCmd) Type() CommandType { return CommandTypeReleaseLock }

// drops an expired lock (internal, issued by the sweeper)
// FencingToken pins the exact claim so a reacquired key is never swept by a stale command
type ExpireLockCmd struct {
	Key          string
	FencingToken uint64
	Now          time.Time
}

func (c ExpireLockCmd) Type() CommandType { return CommandTypeExpireLock }
