package paxos

// Ballot orders proposals. Process i out of n only ever uses ballots congruent to i modulo n,
// so two proposers never share a ballot
type Ballot int64

// InitialBallot is lower than every ballot a proposer will actually use
func InitialBallot(id, n int) Ballot {
	return Ballot(id - n)
}

// Next returns the following ballot owned by the same proposer
func (b Ballot) Next(n int) Ballot {
	return b + Ballot(n)
}

// Owner returns the id of the proposer that owns the ballot
func (b Ballot) Owner(n int) int {
	owner := int(int64(b) % int64(n))
	if owner < 0 {
		owner += n
	}
	return owner
}

// Value is what the processes agree on
type Value int64

// Proposal is a value tagged with the ballot it was imposed with
type Proposal struct {
	Ballot Ballot
	Value  Value
}

// quorum reports whether count is a strict majority of n
func quorum(count, n int) bool {
	return count > n/2
}
