/*
Package simulation runs the consensus experiment: N processes in one actor system, F of them crash prone,
a single leader left proposing after a timeout, and the time it takes to reach a decision
*/
package simulation

import (
	"errors"
	"fmt"
	"time"
)

// Params describes one run
type Params struct {
	// number of processes
	N int
	// number of processes told to crash with probability Alpha on every message
	F     int
	Alpha float64
	// pause between the setup of the processes and their launch
	Hold time.Duration
	// time after launch at which every process but the leader is put on hold
	Timeout time.Duration
	// the run gives up after this long, whatever was decided is reported
	Deadline  time.Duration
	Instances int
	// 0 seeds from the clock
	Seed int64
}

var ErrInvalidParams = errors.New("invalid simulation parameters")

func (p Params) Validate() error {
	switch {
	case p.N < 1:
		return fmt.Errorf("%w: N must be at least 1, got %d", ErrInvalidParams, p.N)
	case p.F < 0:
		return fmt.Errorf("%w: F must not be negative, got %d", ErrInvalidParams, p.F)
	case 2*p.F >= p.N:
		return fmt.Errorf("%w: F must be a minority, got F=%d for N=%d", ErrInvalidParams, p.F, p.N)
	case p.Alpha < 0 || p.Alpha > 1:
		return fmt.Errorf("%w: alpha must be within [0, 1], got %g", ErrInvalidParams, p.Alpha)
	case p.Hold <= 0 || p.Timeout <= 0:
		return fmt.Errorf("%w: hold and timeout must be positive", ErrInvalidParams)
	case p.Deadline <= 0:
		return fmt.Errorf("%w: deadline must be positive", ErrInvalidParams)
	case p.Instances < 1:
		return fmt.Errorf("%w: at least one instance is needed, got %d", ErrInvalidParams, p.Instances)
	}
	return nil
}

// maxFaulty returns the largest minority of n
func maxFaulty(n int) int {
	return (n - 1) / 2
}
