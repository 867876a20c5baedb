package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const (
	logDBName     = "locks-raft.db"
	snapshotDir   = "snapshots"
	defaultRetain = 3
	dataDirPerm   = 0o755
)

// Options tunes the on-disk layout of a node's raft state.
type Options struct {
	// number of FSM snapshots kept on disk, defaults to 3
	RetainSnapshots int
	// destination of snapshot store logs, defaults to stderr
	LogOutput io.Writer
	// skip fsync on every log append, only for tests
	NoSync bool
}

// BoltDBStorage wraps Raft's BoltDB storage components for the lock log
// logstore : stores the Raft log entries (lock commands)
// stablestore : stores stable Raft metadata [stable = survives restarts]
// snapshotstore : stores snapshots of the lock table
type BoltDBStorage struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	db *raftboltdb.BoltStore
}

func NewBoltDBStorage(dataDir string) (*BoltDBStorage, error) {
	return Open(dataDir, Options{})
}

func Open(dataDir string, opts Options) (*BoltDBStorage, error) {
	if opts.RetainSnapshots <= 0 {
		opts.RetainSnapshots = defaultRetain
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}

	if err := os.MkdirAll(dataDir, dataDirPerm); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	//boltDB is used for both log and stable storage
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path:   filepath.Join(dataDir, logDBName),
		NoSync: opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	//snapshot store (file-based)
	snapshots, err := raft.NewFileSnapshotStore(filepath.Join(dataDir, snapshotDir), opts.RetainSnapshots, opts.LogOutput)
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &BoltDBStorage{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapshots,
		db:            boltDB,
	}, nil
}

func (b *BoltDBStorage) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
