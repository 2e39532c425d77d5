package paxos

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
)

func openBolt(t *testing.T, path string) *BoltStorage {
	t.Helper()
	storage, err := OpenBoltStorage(path)
	if err != nil {
		t.Fatal("Error opening storage:", err)
	}
	return storage
}

func TestBoltStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.db")
	storage := openBolt(t, path)
	if _, saved, _ := storage.Load(1); saved {
		t.Fatal("fresh storage should be empty")
	}
	state := InstanceState{ReadBallot: 7, ImposeBallot: 4, Accepted: &Proposal{Ballot: 4, Value: -1}, Proposed: 6}
	if err := storage.Save(1, state); err != nil {
		t.Fatal("Error saving:", err)
	}
	if err := storage.Save(2, NewInstanceState(0, 3)); err != nil {
		t.Fatal("Error saving:", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openBolt(t, path)
	defer reopened.Close()
	loaded, saved, err := reopened.Load(1)
	if err != nil || !saved {
		t.Fatalf("expected a saved state, got %v %v", saved, err)
	}
	if loaded.ReadBallot != 7 || loaded.ImposeBallot != 4 || loaded.Proposed != 6 || loaded.Accepted == nil || *loaded.Accepted != *state.Accepted {
		t.Errorf("unexpected state after reopen: %#v", loaded)
	}
	if loaded, _, _ := reopened.Load(2); loaded.Accepted != nil || loaded.ImposeBallot != -3 || loaded.Proposed != -3 {
		t.Errorf("unexpected state for instance 2: %#v", loaded)
	}
}

func TestBoltStorageRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instances.db")
	if err := os.WriteFile(path, []byte("not a database"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenBoltStorage(path); err == nil {
		t.Error("expected an error for a file that is not a database")
	}

	storage := openBolt(t, filepath.Join(dir, "truncated.db"))
	defer storage.Close()
	err := storage.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(instancesBucket).Put(instanceKey(3), []byte{0xff})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := storage.Load(3); err == nil {
		t.Error("expected an error for a truncated record")
	}
}

func TestRestartedAcceptorKeepsPromises(t *testing.T) {
	storage := NewMemoryStorage()
	if err := storage.Save(1, InstanceState{ReadBallot: 9, ImposeBallot: -3, Proposed: -3}); err != nil {
		t.Fatal(err)
	}
	system := newSystem(t)
	out := make(chan delivery, 10)
	process := spawnProcess(system, Config{ID: 0, N: 3, Storage: storage, Rand: rand.New(rand.NewSource(1))}, captures(system, 3, out), nil)
	process.tell(Read{Instance: 1, Ballot: 8, From: 2})
	if _, ok := next(t, out).msg.(Abort); !ok {
		t.Fatal("a restarted acceptor must still refuse ballots below its promise")
	}
	// its own proposer starts above the ballots it already promised
	process.tell(Launch{Instance: 1, Value: value(1)})
	for _, d := range nextN(t, out, 3) {
		if read, ok := d.msg.(Read); !ok || read.Ballot <= 9 || read.Ballot.Owner(3) != 0 {
			t.Fatalf("expected a read above ballot 9, got %#v", d.msg)
		}
	}
}

// the acceptors never answer here, so only the saved proposer ballot tells the new process what was used
func TestRestartedProposerNeverReusesBallot(t *testing.T) {
	storage := openBolt(t, filepath.Join(t.TempDir(), "instances.db"))
	defer storage.Close()
	system := newSystem(t)
	out := make(chan delivery, 10)
	peers := captures(system, 3, out)
	conf := Config{ID: 1, N: 3, Storage: storage, Rand: rand.New(rand.NewSource(1))}

	first := spawnProcess(system, conf, peers, nil)
	first.tell(Launch{Instance: 1, Value: value(7)})
	used, ok := next(t, out).msg.(Read)
	if !ok {
		t.Fatal("expected a Read")
	}
	nextN(t, out, 2)
	if err := system.Root.StopFuture(first.pid).Wait(); err != nil {
		t.Fatal(err)
	}

	second := spawnProcess(system, conf, peers, nil)
	second.tell(Launch{Instance: 1, Value: value(8)})
	for _, d := range nextN(t, out, 3) {
		read, ok := d.msg.(Read)
		if !ok || read.Ballot <= used.Ballot || read.Ballot.Owner(3) != 1 {
			t.Fatalf("ballot %d was used before the restart, got %#v", used.Ballot, d.msg)
		}
	}
}

func TestSaveFailureStopsProposal(t *testing.T) {
	system := newSystem(t)
	out := make(chan delivery, 10)
	process := spawnProcess(system, Config{ID: 0, N: 3, Storage: failingStorage{}, Rand: rand.New(rand.NewSource(1))}, captures(system, 3, out), nil)
	process.tell(Launch{Instance: 1, Value: value(1)})
	silent(t, out)
}

type failingStorage struct{}

func (failingStorage) Load(uint64) (InstanceState, bool, error) {
	return InstanceState{}, false, nil
}

func (failingStorage) Save(uint64, InstanceState) error {
	return os.ErrPermission
}
