package pause

import (
	"context"
	"sync"

	"github.com/go-delve/jsdebug/pkg/logflags"
)

// Coordinator collects votes on every pause.
type Coordinator struct {
	mu     sync.Mutex
	voters []namedVoter
}

type namedVoter struct {
	name string
	v    Voter
}

// Register adds a voter. name is only used for logging.
func (c *Coordinator) Register(name string, v Voter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voters = append(c.voters, namedVoter{name, v})
}

// Decide asks every voter about ev and returns the winning vote.
// Ties cannot happen between different votes because priorities are
// distinct; when no voter has an opinion the result is Abstained.
func (c *Coordinator) Decide(ctx context.Context, ev Event) Vote {
	c.mu.Lock()
	voters := append([]namedVoter(nil), c.voters...)
	c.mu.Unlock()

	log := logflags.DebuggerLogger()
	best := Abstained
	for _, nv := range voters {
		v := nv.v.Vote(ctx, ev)
		if v != Abstained {
			log.Debugf("pause at %s: %s voted %s", ev.Location, nv.name, v)
		}
		if v.Priority() > best.Priority() {
			best = v
		}
	}
	return best
}
