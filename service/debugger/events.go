package debugger

import (
	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/pause"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Notifications published on the session bus, next to
// breakpoints.StatusChanged.

// LoadedSourceReason tells whether a source appeared or went away.
type LoadedSourceReason string

const (
	SourceNew     LoadedSourceReason = "new"
	SourceRemoved LoadedSourceReason = "removed"
)

// LoadedSource reports a change in the set of sources a client can see.
type LoadedSource struct {
	Reason LoadedSourceReason
	Source scripts.Source
}

// Stopped reports a pause that is shown to the client.
type Stopped struct {
	Reason pause.Vote
	// RuntimeReason is the reason the runtime gave.
	RuntimeReason string
	// HitBreakpoints are the client recipes whose breakpoints were hit.
	HitBreakpoints []breakpoints.RecipeID
}

// Continued reports that the runtime resumed on its own after a client
// visible pause.
type Continued struct{}

// Terminated reports that the runtime connection went away.
type Terminated struct{}
