package lease

import "github.com/pkg/errors"

// Configuration is the process-wide Membership/Config component:
// quorum size and the ordered master/replica sets. It is seeded at
// init and changed only by administrative broadcasts, each of which
// replaces one field (masters, replicas or W).
type Configuration struct {
	W        int
	Masters  []NodeID
	Replicas []NodeID
}

// Validate enforces invariant 4: 1 <= W <= len(Masters).
func (c Configuration) Validate() error {
	if len(c.Masters) == 0 {
		return errors.New("locker: configuration requires at least one master")
	}
	if c.W < 1 || c.W > len(c.Masters) {
		return errors.Errorf("locker: W=%d out of range for %d masters", c.W, len(c.Masters))
	}
	return nil
}

// DefaultW computes the conventional majority quorum, floor(n/2)+1.
func DefaultW(masters int) int {
	return masters/2 + 1
}

// Clone returns a deep-enough copy safe to hand to a reader without
// racing a subsequent AdminSet*.
func (c Configuration) Clone() Configuration {
	out := Configuration{W: c.W}
	out.Masters = append([]NodeID(nil), c.Masters...)
	out.Replicas = append([]NodeID(nil), c.Replicas...)
	return out
}
