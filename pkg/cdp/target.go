package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"

	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Runtime notifications the debugger handles.
const (
	EventScriptParsed              = "Debugger.scriptParsed"
	EventPaused                    = "Debugger.paused"
	EventResumed                   = "Debugger.resumed"
	EventBreakpointResolved        = "Debugger.breakpointResolved"
	EventExecutionContextCreated   = "Runtime.executionContextCreated"
	EventExecutionContextDestroyed = "Runtime.executionContextDestroyed"
	EventExecutionContextsCleared  = "Runtime.executionContextsCleared"
)

// client binds a context to a Conn for the typed requests of package
// proto, which take the context from the client.
type client struct {
	*Conn
	ctx context.Context
}

func (c client) GetContext() context.Context { return c.ctx }

// Target is the runtime as seen by the debugger.
type Target struct {
	conn *Conn
	log  logflags.Logger

	mu              sync.Mutex
	instrumentation map[string]proto.DebuggerBreakpointID
}

// NewTarget returns a Target using conn.
func NewTarget(conn *Conn) *Target {
	return &Target{
		conn:            conn,
		log:             logflags.CDPLogger(),
		instrumentation: make(map[string]proto.DebuggerBreakpointID),
	}
}

func (t *Target) with(ctx context.Context) client { return client{t.conn, ctx} }

// OnEvent registers fn for runtime notifications. See Conn.OnEvent.
func (t *Target) OnEvent(fn func(Event)) (unsubscribe func()) { return t.conn.OnEvent(fn) }

// Done is closed when the runtime connection goes away.
func (t *Target) Done() <-chan struct{} { return t.conn.Done() }

// Close closes the runtime connection.
func (t *Target) Close() error { return t.conn.Close() }

// SetPauseOnExceptions sets which exceptions pause: "none", "uncaught"
// or "all".
func (t *Target) SetPauseOnExceptions(ctx context.Context, state string) error {
	return proto.DebuggerSetPauseOnExceptions{State: proto.DebuggerSetPauseOnExceptionsState(state)}.Call(t.with(ctx))
}

// Enable turns on the Runtime and Debugger domains. The runtime replays
// the scripts and execution contexts it already has as notifications.
func (t *Target) Enable(ctx context.Context) error {
	if err := (proto.RuntimeEnable{}).Call(t.with(ctx)); err != nil {
		return err
	}
	if _, err := (proto.DebuggerEnable{}).Call(t.with(ctx)); err != nil {
		return err
	}
	return nil
}

// RunIfWaitingForDebugger releases a runtime started with --inspect-brk.
func (t *Target) RunIfWaitingForDebugger(ctx context.Context) error {
	return proto.RuntimeRunIfWaitingForDebugger{}.Call(t.with(ctx))
}

// Resume resumes execution.
func (t *Target) Resume(ctx context.Context) error {
	return proto.DebuggerResume{}.Call(t.with(ctx))
}

// Pause stops execution as soon as possible.
func (t *Target) Pause(ctx context.Context) error {
	return proto.DebuggerPause{}.Call(t.with(ctx))
}

// RuntimeVersion evaluates process.version. Runtimes that are not
// Node.js return an empty string.
func (t *Target) RuntimeVersion(ctx context.Context) (string, error) {
	res, err := proto.RuntimeEvaluate{Expression: "typeof process === 'object' ? process.version : ''", ReturnByValue: true}.Call(t.with(ctx))
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil || res.Result == nil {
		return "", nil
	}
	return res.Result.Value.Str(), nil
}

func toLocation(script scripts.ScriptID, p location.Position) *proto.DebuggerLocation {
	loc := &proto.DebuggerLocation{ScriptID: proto.RuntimeScriptID(script), LineNumber: p.Line}
	if p.HasColumn() {
		col := p.Column
		loc.ColumnNumber = &col
	}
	return loc
}

func fromLocation(loc *proto.DebuggerLocation) scripts.ScriptLocation {
	pos := location.Line(loc.LineNumber)
	if loc.ColumnNumber != nil {
		pos.Column = *loc.ColumnNumber
	}
	return location.New(scripts.ScriptID(loc.ScriptID), pos)
}

// SetBreakpoint implements breakpoints.DebuggeeBreakpointSetter.
func (t *Target) SetBreakpoint(ctx context.Context, r breakpoints.InScript) (breakpoints.DebuggeeID, scripts.ScriptLocation, error) {
	res, err := proto.DebuggerSetBreakpoint{
		Location:  toLocation(r.Script, r.Position),
		Condition: r.Condition,
	}.Call(t.with(ctx))
	if err != nil {
		return "", scripts.ScriptLocation{}, err
	}
	if res.ActualLocation == nil {
		return breakpoints.DebuggeeID(res.BreakpointID), location.New(r.Script, r.Position), nil
	}
	return breakpoints.DebuggeeID(res.BreakpointID), fromLocation(res.ActualLocation), nil
}

// SetBreakpointByURLRegexp implements breakpoints.DebuggeeBreakpointSetter.
func (t *Target) SetBreakpointByURLRegexp(ctx context.Context, r breakpoints.InURLRegexp) (breakpoints.DebuggeeID, []scripts.ScriptLocation, error) {
	req := proto.DebuggerSetBreakpointByURL{
		LineNumber: r.Position.Line,
		URLRegex:   r.Regexp,
		Condition:  r.Condition,
	}
	if r.Position.HasColumn() {
		col := r.Position.Column
		req.ColumnNumber = &col
	}
	res, err := req.Call(t.with(ctx))
	if err != nil {
		return "", nil, err
	}
	locs := make([]scripts.ScriptLocation, 0, len(res.Locations))
	for _, l := range res.Locations {
		locs = append(locs, fromLocation(l))
	}
	return breakpoints.DebuggeeID(res.BreakpointID), locs, nil
}

// RemoveBreakpoint implements breakpoints.DebuggeeBreakpointSetter.
func (t *Target) RemoveBreakpoint(ctx context.Context, id breakpoints.DebuggeeID) error {
	return proto.DebuggerRemoveBreakpoint{BreakpointID: proto.DebuggerBreakpointID(id)}.Call(t.with(ctx))
}

// PossibleBreakpoints implements breakpoints.DebuggeeBreakpointSetter.
func (t *Target) PossibleBreakpoints(ctx context.Context, script scripts.ScriptID, r location.Range) ([]location.Position, error) {
	res, err := proto.DebuggerGetPossibleBreakpoints{
		Start: toLocation(script, r.Start),
		End:   toLocation(script, r.End),
	}.Call(t.with(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]location.Position, 0, len(res.Locations))
	for _, l := range res.Locations {
		pos := location.Line(l.LineNumber)
		if l.ColumnNumber != nil {
			pos.Column = *l.ColumnNumber
		}
		out = append(out, pos)
	}
	return out, nil
}

// SetInstrumentationBreakpoint implements
// breakpoints.InstrumentationBreakpointsSetter.
func (t *Target) SetInstrumentationBreakpoint(ctx context.Context, event string) error {
	if event != breakpoints.BeforeScriptExecution {
		return fmt.Errorf("unsupported instrumentation %q", event)
	}
	res, err := proto.DebuggerSetInstrumentationBreakpoint{
		Instrumentation: proto.DebuggerSetInstrumentationBreakpointInstrumentationBeforeScriptExecution,
	}.Call(t.with(ctx))
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.instrumentation[event] = res.BreakpointID
	return nil
}

// RemoveInstrumentationBreakpoint implements
// breakpoints.InstrumentationBreakpointsSetter.
func (t *Target) RemoveInstrumentationBreakpoint(ctx context.Context, event string) error {
	t.mu.Lock()
	id, ok := t.instrumentation[event]
	delete(t.instrumentation, event)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return proto.DebuggerRemoveBreakpoint{BreakpointID: id}.Call(t.with(ctx))
}

// CallFrame is one frame of a paused stack.
type CallFrame struct {
	ID           string
	FunctionName string
	Location     scripts.ScriptLocation
}

// Paused is a decoded Debugger.paused notification.
type Paused struct {
	Reason         string
	HitBreakpoints []string
	CallFrames     []CallFrame
	// Script is the script about to run, for instrumentation pauses.
	Script scripts.ScriptID
}

// Location returns the top frame location, or the start of Script for
// instrumentation pauses without frames.
func (p Paused) Location() scripts.ScriptLocation {
	if len(p.CallFrames) > 0 {
		return p.CallFrames[0].Location
	}
	return location.New(p.Script, location.At(0, 0))
}

// DecodePaused decodes the parameters of a Debugger.paused notification.
func DecodePaused(params json.RawMessage) (Paused, error) {
	var ev proto.DebuggerPaused
	if err := json.Unmarshal(params, &ev); err != nil {
		return Paused{}, fmt.Errorf("decoding %s: %w", EventPaused, err)
	}
	p := Paused{Reason: string(ev.Reason), HitBreakpoints: ev.HitBreakpoints}
	for _, f := range ev.CallFrames {
		if f.Location == nil {
			continue
		}
		p.CallFrames = append(p.CallFrames, CallFrame{
			ID:           string(f.CallFrameID),
			FunctionName: f.FunctionName,
			Location:     fromLocation(f.Location),
		})
	}
	p.Script = scripts.ScriptID(gjson.GetBytes(params, "data.scriptId").String())
	if p.Script == "" && len(p.CallFrames) > 0 {
		p.Script = p.CallFrames[0].Location.Resource
	}
	return p, nil
}

// DecodeScriptParsed decodes the parameters of a Debugger.scriptParsed
// notification.
func DecodeScriptParsed(params json.RawMessage) (scripts.ScriptParsed, error) {
	var ev proto.DebuggerScriptParsed
	if err := json.Unmarshal(params, &ev); err != nil {
		return scripts.ScriptParsed{}, fmt.Errorf("decoding %s: %w", EventScriptParsed, err)
	}
	return scripts.ScriptParsed{
		ID:           scripts.ScriptID(ev.ScriptID),
		URL:          ev.URL,
		Start:        location.At(ev.StartLine, ev.StartColumn),
		End:          location.At(ev.EndLine, ev.EndColumn),
		Context:      scripts.ExecutionContextID(ev.ExecutionContextID),
		SourceMapURL: ev.SourceMapURL,
	}, nil
}

// DecodeBreakpointResolved decodes the parameters of a
// Debugger.breakpointResolved notification.
func DecodeBreakpointResolved(params json.RawMessage) (breakpoints.DebuggeeID, scripts.ScriptLocation, error) {
	var ev proto.DebuggerBreakpointResolved
	if err := json.Unmarshal(params, &ev); err != nil {
		return "", scripts.ScriptLocation{}, fmt.Errorf("decoding %s: %w", EventBreakpointResolved, err)
	}
	if ev.Location == nil {
		return "", scripts.ScriptLocation{}, fmt.Errorf("%s without location", EventBreakpointResolved)
	}
	return breakpoints.DebuggeeID(ev.BreakpointID), fromLocation(ev.Location), nil
}

// DecodeContextCreated returns the id of a created execution context.
func DecodeContextCreated(params json.RawMessage) (scripts.ExecutionContextID, error) {
	id := gjson.GetBytes(params, "context.id")
	if !id.Exists() {
		return 0, fmt.Errorf("%s without context id", EventExecutionContextCreated)
	}
	return scripts.ExecutionContextID(id.Int()), nil
}

// DecodeContextDestroyed returns the id of a destroyed execution context.
func DecodeContextDestroyed(params json.RawMessage) (scripts.ExecutionContextID, error) {
	var ev proto.RuntimeExecutionContextDestroyed
	if err := json.Unmarshal(params, &ev); err != nil {
		return 0, fmt.Errorf("decoding %s: %w", EventExecutionContextDestroyed, err)
	}
	return scripts.ExecutionContextID(ev.ExecutionContextID), nil
}
