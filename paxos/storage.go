package paxos

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// InstanceState is everything a process must remember about an instance to stay safe across restarts
type InstanceState struct {
	// highest ballot this acceptor answered a Read for
	ReadBallot Ballot
	// ballot of the last Impose this acceptor acknowledged
	ImposeBallot Ballot
	Accepted     *Proposal
	// last ballot the proposer of this process used
	Proposed Ballot
}

// NewInstanceState returns the state of a process that has not seen any message for the instance
func NewInstanceState(id, n int) InstanceState {
	initial := InitialBallot(id, n)
	return InstanceState{ReadBallot: 0, ImposeBallot: initial, Proposed: initial}
}

// Storage keeps instance states, Save must be durable when it returns
type Storage interface {
	Load(instance uint64) (InstanceState, bool, error)
	Save(instance uint64, state InstanceState) error
}

// MemoryStorage keeps instance states in memory only, which is enough when processes never restart
type MemoryStorage struct {
	lock   sync.Mutex
	states map[uint64]InstanceState
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[uint64]InstanceState)}
}

func (s *MemoryStorage) Load(instance uint64) (InstanceState, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	state, exists := s.states[instance]
	return state, exists, nil
}

func (s *MemoryStorage) Save(instance uint64, state InstanceState) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.states[instance] = state
	return nil
}

var instancesBucket = []byte("instances")

// BoltStorage keeps one record per instance in a bbolt database, every Save is its own transaction
type BoltStorage struct {
	db *bolt.DB
}

// OpenBoltStorage opens or creates the database at path
func OpenBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening instance state %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(instancesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating instance bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// keys are big endian so the bucket iterates in instance order
func instanceKey(instance uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, instance)
}

func (s *BoltStorage) Load(instance uint64) (InstanceState, bool, error) {
	var state InstanceState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		record := tx.Bucket(instancesBucket).Get(instanceKey(instance))
		if record == nil {
			return nil
		}
		found = true
		return state.UnmarshalWire(record)
	})
	if err != nil {
		return InstanceState{}, false, fmt.Errorf("loading instance %d: %w", instance, err)
	}
	return state, found, nil
}

func (s *BoltStorage) Save(instance uint64, state InstanceState) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(instancesBucket).Put(instanceKey(instance), state.AppendWire(nil))
	})
	if err != nil {
		return fmt.Errorf("saving instance %d: %w", instance, err)
	}
	return nil
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
