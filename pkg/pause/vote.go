// Package pause decides what to do when the runtime reports a pause.
//
// Every interested component registers a Voter. On each pause all voters
// are asked, and the vote with the highest static priority wins.
package pause

import (
	"context"
	"fmt"

	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Vote is a voter's opinion about a pause.
type Vote uint8

const (
	// Abstained is what the coordinator returns when no voter had an
	// opinion. The session treats it as an unexplained pause and shows it.
	Abstained Vote = iota
	// ResumeAfterLoad asks to resume a break-on-load pause once the
	// script's breakpoints are set and none of them is at the paused
	// location.
	ResumeAfterLoad
	// ResumeHitCountNotMet asks to resume a breakpoint hit whose hit count
	// condition is not satisfied yet.
	ResumeHitCountNotMet
	// PauseOnDebuggerStatement reports a `debugger;` statement.
	PauseOnDebuggerStatement
	// PauseOnRequest reports a pause the client asked for.
	PauseOnRequest
	// PauseOnException reports an exception pause.
	PauseOnException
	// PauseAtBreakpoint reports a user breakpoint hit.
	PauseAtBreakpoint
)

// priority ranks votes; the highest wins.
var priority = [...]int{
	Abstained:                0,
	ResumeAfterLoad:          10,
	ResumeHitCountNotMet:     20,
	PauseOnDebuggerStatement: 30,
	PauseOnRequest:           40,
	PauseOnException:         50,
	PauseAtBreakpoint:        60,
}

var voteNames = [...]string{
	Abstained:                "abstained",
	ResumeAfterLoad:          "resume after load",
	ResumeHitCountNotMet:     "resume, hit count not met",
	PauseOnDebuggerStatement: "debugger statement",
	PauseOnRequest:           "pause",
	PauseOnException:         "exception",
	PauseAtBreakpoint:        "breakpoint",
}

func (v Vote) String() string {
	if int(v) < len(voteNames) {
		return voteNames[v]
	}
	return fmt.Sprintf("Vote(%d)", uint8(v))
}

// Priority returns the static rank of v.
func (v Vote) Priority() int {
	if int(v) < len(priority) {
		return priority[v]
	}
	return -1
}

// Resumes reports whether v asks the session to resume execution.
func (v Vote) Resumes() bool {
	return v == ResumeAfterLoad || v == ResumeHitCountNotMet
}

// Event is a pause as reported by the runtime.
type Event struct {
	// Reason is the runtime's pause reason, e.g. "instrumentation",
	// "exception", "other".
	Reason string
	// Location is the top frame's location, if any.
	Location scripts.ScriptLocation
	// HitBreakpoints are the runtime ids of the breakpoints that caused
	// the pause.
	HitBreakpoints []string
}

// Voter gives its opinion on a pause. Voters may block, for instance to
// wait until a script's breakpoints are set.
type Voter interface {
	Vote(ctx context.Context, ev Event) Vote
}

// VoterFunc adapts a function to Voter.
type VoterFunc func(ctx context.Context, ev Event) Vote

// Vote implements Voter.
func (f VoterFunc) Vote(ctx context.Context, ev Event) Vote { return f(ctx, ev) }
