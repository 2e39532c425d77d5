/*
Package paxos implements obstruction-free Paxos consensus as an actor.

Every Process plays the proposer, acceptor and learner roles for any number of independent instances.
A proposer runs rounds of READ/GATHER followed by IMPOSE/ACK against all members (itself included),
and broadcasts DECIDE once a majority acknowledged its value. An acceptor refuses (ABORT) any ballot lower
than one it already read or imposed, and persists its state before answering.

The protocol is safe under any interleaving. Progress needs a single proposer to run undisturbed,
which is what Hold and Resume provide: processes on hold stop retrying aborted proposals.
*/
package paxos
