package scripts

import (
	"errors"
	"fmt"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/sourcemap"
)

// ScriptID is the opaque id the runtime assigned to a parsed script.
type ScriptID string

// ExecutionContextID is the runtime id of an execution context.
type ExecutionContextID int

// ScriptLocation is a position within a script, in the coordinates of
// its runtime source.
type ScriptLocation = location.Location[ScriptID]

var (
	// ErrUnknownScript is returned for script ids the registry never saw.
	ErrUnknownScript = errors.New("unknown script")
	// ErrContextAlreadyDestroyed is returned when an execution context is
	// destroyed twice.
	ErrContextAlreadyDestroyed = errors.New("execution context already destroyed")
)

// Script is one script instance parsed by the runtime. Its runtime
// source is set at creation and never changes.
type Script struct {
	ID      ScriptID
	URL     string
	Context ExecutionContextID
	// Range is the script's extent within its runtime source.
	Range       location.Range
	Runtime     SourceID
	Development SourceID
	Mapped      []SourceID
	Mapper      sourcemap.Mapper

	// authored maps each mapped source to the name the source map uses
	// for it, before path substitution.
	authored map[SourceID]resource.Identifier
}

func (s *Script) String() string {
	if s.URL == "" {
		return fmt.Sprintf("script %s", s.ID)
	}
	return fmt.Sprintf("script %s (%s)", s.ID, s.URL)
}

// ScriptParsed describes a script the runtime just parsed.
type ScriptParsed struct {
	ID           ScriptID
	URL          string
	Start, End   location.Position
	Context      ExecutionContextID
	SourceMapURL string
}

// ExecutionContext is a runtime scope whose destruction invalidates the
// scripts loaded in it.
type ExecutionContext struct {
	ID        ExecutionContextID
	destroyed bool
}

// Destroyed reports whether the context was torn down.
func (c *ExecutionContext) Destroyed() bool { return c.destroyed }

func (c *ExecutionContext) markDestroyed() error {
	if c.destroyed {
		return fmt.Errorf("%w: %d", ErrContextAlreadyDestroyed, c.ID)
	}
	c.destroyed = true
	return nil
}
