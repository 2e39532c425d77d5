package paxos

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Protocol messages, every one names the instance it belongs to and the id of its sender

type Read struct {
	Instance uint64
	Ballot   Ballot
	From     int
}

// Gather answers a Read with the ballot of the last Impose the acceptor acknowledged,
// Accepted is nil if it never acknowledged one
type Gather struct {
	Instance     uint64
	Ballot       Ballot
	ImposeBallot Ballot
	Accepted     *Proposal
	From         int
}

type Impose struct {
	Instance uint64
	Ballot   Ballot
	Value    Value
	From     int
}

type Ack struct {
	Instance uint64
	Ballot   Ballot
	From     int
}

// Abort refuses a Read or an Impose carrying Ballot
type Abort struct {
	Instance uint64
	Ballot   Ballot
	From     int
}

type Decide struct {
	Instance uint64
	Value    Value
	From     int
}

// Control messages

// Members gives a process the references of every member indexed by id (itself included),
// and the actor that receives its Decided reports
type Members struct {
	Peers  []*actor.PID
	Report *actor.PID
}

// Launch starts proposing in an instance, a nil Value proposes 0 or 1 at random
type Launch struct {
	Instance uint64
	Value    *Value
}

// Crash makes the process crash with probability Alpha on every message it handles from now on
type Crash struct {
	Alpha float64
}

// Hold stops the process from retrying aborted proposals
type Hold struct{}

// Resume lifts a Hold and retries every proposal that was aborted while holding
type Resume struct{}

// StatusRequest asks a process for a snapshot of its state, it responds with a Status
type StatusRequest struct{}

type Status struct {
	ID        int
	Crashed   bool
	OnHold    bool
	Instances int
	Decided   int
}

// Decided is sent to the report actor when a process learns the value of an instance
type Decided struct {
	Instance uint64
	Value    Value
	Process  int
	At       time.Time
	// number of proposals this process started in the instance before learning the decision
	Attempts int
}
