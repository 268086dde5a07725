package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/cdp"
	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/pause"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
	"github.com/go-delve/jsdebug/pkg/sourcemap"
)

// ErrNotPaused is returned by operations that need a stopped runtime.
var ErrNotPaused = errors.New("runtime is not paused")

// Target is the runtime a Debugger drives. *cdp.Target implements it.
type Target interface {
	breakpoints.DebuggeeBreakpointSetter
	breakpoints.InstrumentationBreakpointsSetter

	OnEvent(fn func(cdp.Event)) (unsubscribe func())
	Done() <-chan struct{}
	Close() error

	Enable(ctx context.Context) error
	RunIfWaitingForDebugger(ctx context.Context) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	SetPauseOnExceptions(ctx context.Context, state string) error
	RuntimeVersion(ctx context.Context) (string, error)
}

// Debugger service.
//
// Debugger owns the components of one debug session: the script and
// source registry, the breakpoint manager and the pause coordinator.
// It routes runtime notifications to them and publishes what the client
// must hear about on its event bus.
type Debugger struct {
	config *Config
	target Target
	log    logflags.Logger

	bus     *events.Bus
	scripts *scripts.Registry
	bps     *breakpoints.Manager
	votes   pause.Coordinator

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	stateMu        sync.Mutex
	paused         *cdp.Paused
	pauseRequested bool
	detached       bool
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// Parser parses runtime URLs and client paths.
	Parser resource.Parser

	// SubstitutePath maps runtime URLs and paths to workspace paths.
	SubstitutePath resource.Rules

	// SourceMaps loads the source maps of parsed scripts. Source maps are
	// ignored if it is nil.
	SourceMaps sourcemap.Provider

	// BreakOnLoad is the strategy used to set breakpoints in scripts
	// before they run.
	BreakOnLoad breakpoints.Strategy

	// ColumnBreakpoints snaps breakpoints to the closest breakable column
	// of the requested line.
	ColumnBreakpoints bool

	// RuntimeVersion is used when the runtime does not report its
	// version.
	RuntimeVersion string
}

// New creates a new Debugger for target. Runtime notifications are
// handled from now on; call Attach to enable the runtime debugger.
func New(config *Config, target Target) *Debugger {
	d := &Debugger{
		config: config,
		target: target,
		log:    logflags.DebuggerLogger(),
		bus:    events.NewBus(),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.scripts = scripts.New(scripts.Config{
		Parser:        config.Parser,
		Substitutions: config.SubstitutePath,
		SourceMaps:    config.SourceMaps,
	})
	d.bps = breakpoints.New(breakpoints.Config{
		Scripts:           d.scripts,
		Setter:            target,
		Instrumentation:   target,
		Bus:               d.bus,
		Strategy:          config.BreakOnLoad,
		ColumnBreakpoints: config.ColumnBreakpoints,
	})
	d.votes.Register("breakpoints", d.bps)
	d.votes.Register("break on load", d.bps.BreakOnLoad())
	d.votes.Register("pause reason", pause.VoterFunc(d.voteOnReason))

	d.unsubscribe = target.OnEvent(d.handleEvent)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-target.Done():
			d.log.Info("runtime connection closed")
			d.bus.Publish(Terminated{})
		case <-d.ctx.Done():
		}
	}()
	return d
}

// Attach detects the runtime version and enables the runtime debugger.
// The runtime replays the scripts it already parsed.
func (d *Debugger) Attach(ctx context.Context) error {
	version := d.config.RuntimeVersion
	if v, err := d.target.RuntimeVersion(ctx); err != nil {
		d.log.Warnf("could not read runtime version: %v", err)
	} else if v != "" {
		version = v
	}
	d.log.Infof("attaching to runtime %s, break on load %s", version, d.bps.BreakOnLoad().Strategy())
	d.bps.BreakOnLoad().SetRuntimeVersion(version)
	if err := d.target.Enable(ctx); err != nil {
		return fmt.Errorf("could not enable the runtime debugger: %w", err)
	}
	return nil
}

// Start releases a runtime that waits for a debugger.
func (d *Debugger) Start(ctx context.Context) error {
	return d.target.RunIfWaitingForDebugger(ctx)
}

// Events returns the bus the session publishes on.
func (d *Debugger) Events() *events.Bus { return d.bus }

// Breakpoints returns the breakpoint manager.
func (d *Debugger) Breakpoints() *breakpoints.Manager { return d.bps }

// Scripts returns the script and source registry.
func (d *Debugger) Scripts() *scripts.Registry { return d.scripts }

// UpdateBreakpoints replaces the breakpoints of the client source at
// path and returns one status per desired recipe, in order.
func (d *Debugger) UpdateBreakpoints(ctx context.Context, path string, desired []breakpoints.Recipe) []breakpoints.Status {
	source := d.config.Parser.Parse(path)
	recipes := make([]breakpoints.Recipe, len(desired))
	for i, r := range desired {
		r.Source = source
		recipes[i] = r
	}
	return d.bps.Update(ctx, source, recipes)
}

// SetExceptionBreakpoints selects which exceptions pause. Filters are
// "all" and "uncaught"; no filter disables exception pauses.
func (d *Debugger) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	state := "none"
	for _, f := range filters {
		switch f {
		case "all":
			state = "all"
		case "uncaught":
			if state == "none" {
				state = "uncaught"
			}
		default:
			return fmt.Errorf("unknown exception filter %q", f)
		}
	}
	return d.target.SetPauseOnExceptions(ctx, state)
}

// Resume resumes a paused runtime.
func (d *Debugger) Resume(ctx context.Context) error {
	d.stateMu.Lock()
	d.paused = nil
	d.stateMu.Unlock()
	return d.target.Resume(ctx)
}

// Pause asks the runtime to stop. The stop is reported as a Stopped
// event.
func (d *Debugger) Pause(ctx context.Context) error {
	d.stateMu.Lock()
	d.pauseRequested = true
	d.stateMu.Unlock()
	return d.target.Pause(ctx)
}

// IsPaused reports whether the runtime is stopped at a client visible
// pause.
func (d *Debugger) IsPaused() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.paused != nil
}

// Frame is a call frame mapped to the source a client should see.
type Frame struct {
	Index    int
	Name     string
	Source   scripts.Source
	Position location.Position
	Script   scripts.ScriptLocation
	// Mapped is false when the frame's script is unknown.
	Mapped bool
}

// CallFrames returns the stack of the current pause.
func (d *Debugger) CallFrames() ([]Frame, error) {
	d.stateMu.Lock()
	p := d.paused
	d.stateMu.Unlock()
	if p == nil {
		return nil, ErrNotPaused
	}
	frames := make([]Frame, 0, len(p.CallFrames))
	for i, cf := range p.CallFrames {
		f := Frame{Index: i, Name: cf.FunctionName, Script: cf.Location, Position: cf.Location.Position}
		if loc, ok := d.scripts.MapToSource(cf.Location); ok {
			if src, ok := d.scripts.Source(loc.Resource); ok {
				f.Source, f.Position, f.Mapped = src, loc.Position, true
			}
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// LoadedSources returns the sources a client can see.
func (d *Debugger) LoadedSources() []scripts.Source {
	return d.scripts.LoadedSources()
}

// Detach stops handling runtime notifications, resumes the runtime if it
// is paused and closes the connection. Pending notifications are
// delivered before Detach returns.
func (d *Debugger) Detach(ctx context.Context) error {
	d.stateMu.Lock()
	if d.detached {
		d.stateMu.Unlock()
		return nil
	}
	d.detached = true
	paused := d.paused != nil
	d.paused = nil
	d.stateMu.Unlock()

	if paused {
		if err := d.target.Resume(ctx); err != nil {
			d.log.Debugf("resuming before detach: %v", err)
		}
	}
	d.cancel()
	d.unsubscribe()
	err := d.target.Close()
	d.wg.Wait()
	d.bps.Wait()
	d.bus.Close()
	return err
}

func (d *Debugger) handleEvent(ev cdp.Event) {
	switch ev.Method {
	case cdp.EventScriptParsed:
		parsed, err := cdp.DecodeScriptParsed(ev.Params)
		if err != nil {
			d.log.Error(err)
			return
		}
		d.scriptParsed(parsed)

	case cdp.EventBreakpointResolved:
		id, loc, err := cdp.DecodeBreakpointResolved(ev.Params)
		if err != nil {
			d.log.Error(err)
			return
		}
		d.bps.BreakpointResolved(id, loc)

	case cdp.EventPaused:
		p, err := cdp.DecodePaused(ev.Params)
		if err != nil {
			d.log.Error(err)
			return
		}
		// Voters may wait for script reconciliation, which needs the
		// notifications behind this one.
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.onPaused(p)
		}()

	case cdp.EventResumed:
		d.bps.Resumed()
		d.stateMu.Lock()
		wasPaused := d.paused != nil
		d.paused = nil
		d.stateMu.Unlock()
		if wasPaused {
			d.bus.Publish(Continued{})
		}

	case cdp.EventExecutionContextCreated:
		id, err := cdp.DecodeContextCreated(ev.Params)
		if err != nil {
			d.log.Error(err)
			return
		}
		d.scripts.AddContext(id)

	case cdp.EventExecutionContextDestroyed:
		id, err := cdp.DecodeContextDestroyed(ev.Params)
		if err != nil {
			d.log.Error(err)
			return
		}
		d.destroyContext(id)

	case cdp.EventExecutionContextsCleared:
		for _, id := range d.scripts.LiveContexts() {
			d.destroyContext(id)
		}
	}
}

func (d *Debugger) scriptParsed(parsed scripts.ScriptParsed) {
	script, visible, err := d.scripts.AddScript(d.ctx, parsed)
	if err != nil {
		d.log.Errorf("script parsed: %v", err)
		return
	}
	d.bps.ScriptParsed(d.ctx, script)
	for _, src := range visible {
		if src.Role != scripts.RoleRuntime {
			d.bus.Publish(LoadedSource{Reason: SourceNew, Source: src})
		}
	}
}

func (d *Debugger) destroyContext(id scripts.ExecutionContextID) {
	dead, removed, err := d.scripts.DestroyContext(id)
	if err != nil {
		d.log.Debugf("execution context %d: %v", id, err)
		return
	}
	d.log.Debugf("execution context %d destroyed with %d scripts", id, len(dead))
	d.bps.ScriptsDestroyed(dead)
	for _, src := range removed {
		if src.Role != scripts.RoleRuntime {
			d.bus.Publish(LoadedSource{Reason: SourceRemoved, Source: src})
		}
	}
}

func (d *Debugger) onPaused(p cdp.Paused) {
	ev := pause.Event{Reason: p.Reason, Location: p.Location(), HitBreakpoints: p.HitBreakpoints}
	if p.Reason == "instrumentation" && p.Script != "" && ev.Location.Resource != p.Script {
		ev.Location = location.New(p.Script, location.At(0, 0))
	}
	vote := d.votes.Decide(d.ctx, ev)
	if d.ctx.Err() != nil {
		return
	}
	if vote.Resumes() {
		d.log.Debugf("resuming pause at %s: %s", ev.Location, vote)
		if err := d.target.Resume(d.ctx); err != nil {
			d.log.Warnf("could not resume: %v", err)
		}
		return
	}

	var hits []breakpoints.RecipeID
	seen := map[breakpoints.RecipeID]bool{}
	for _, h := range p.HitBreakpoints {
		if r, ok := d.bps.RecipeOf(breakpoints.DebuggeeID(h)); ok && !seen[r.ID] {
			seen[r.ID] = true
			hits = append(hits, r.ID)
		}
	}
	d.stateMu.Lock()
	d.paused = &p
	d.pauseRequested = false
	d.stateMu.Unlock()
	d.log.Debugf("stopped at %s: %s", ev.Location, vote)
	d.bus.Publish(Stopped{Reason: vote, RuntimeReason: p.Reason, HitBreakpoints: hits})
}

// voteOnReason votes for pauses explained by the runtime's reason or by
// a client pause request.
func (d *Debugger) voteOnReason(ctx context.Context, ev pause.Event) pause.Vote {
	switch ev.Reason {
	case "exception", "promiseRejection", "assert", "OOM":
		return pause.PauseOnException
	}
	d.stateMu.Lock()
	requested := d.pauseRequested
	d.stateMu.Unlock()
	if requested {
		return pause.PauseOnRequest
	}
	if ev.Reason == "other" && len(ev.HitBreakpoints) == 0 {
		return pause.PauseOnDebuggerStatement
	}
	return pause.Abstained
}
