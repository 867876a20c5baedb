package fsm

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pixperk/flowkey/pkg/types"
)

// adapter to bridge Raft FSM with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return &RaftFSM{
		fsm: NewFSM(),
	}
}

// returns the wrapped state machine for reads
func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

// raft hands back whatever Apply returns through ApplyFuture.Response,
// so errors are returned as values and unwrapped by the node
func (rf *RaftFSM) Apply(log *raft.Log) any {
	//s1 : decode command from bytes
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return err
	}

	//s2 : apply command to FSM
	result, err := rf.fsm.Apply(cmd)
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current FSM state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	snapshot := &fsmSnapshot{
		Locks:          make(map[string]*types.Lock, len(rf.fsm.locks)),
		FencingCounter: rf.fsm.fencingCounter,
	}

	//deep copy locks
	for key, lock := range rf.fsm.locks {
		lockCopy := *lock
		snapshot.Locks[key] = &lockCopy
	}

	return snapshot, nil
}

// restores FSM state from snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}
	if snap.Locks == nil {
		snap.Locks = make(map[string]*types.Lock)
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	rf.fsm.locks = snap.Locks
	rf.fsm.fencingCounter = snap.FencingCounter

	return nil
}

// point-in-time snapshot of FSM state
type fsmSnapshot struct {
	Locks          map[string]*types.Lock `json:"locks"`
	FencingCounter uint64                 `json:"fencing_counter"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel() //fail snapshot on error
		return err
	}
	return sink.Close() //mark snapshot as complete
}

// called when snapshot is no longer needed
// we have no resources to clean up here
func (s *fsmSnapshot) Release() {}
