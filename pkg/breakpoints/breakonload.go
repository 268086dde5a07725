package breakpoints

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/pause"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// Strategy selects how execution is stopped in scripts that load after a
// breakpoint was requested for them.
type Strategy uint8

const (
	// Off never stops; breakpoints in scripts that load later may be
	// missed on their first run.
	Off Strategy = iota
	// Regex sets a breakpoint at the start of every script whose URL
	// looks like a pending source.
	Regex
	// Instrument pauses before every script while some recipe is
	// pending.
	Instrument
)

func (s Strategy) String() string {
	switch s {
	case Off:
		return "off"
	case Regex:
		return "regex"
	case Instrument:
		return "instrument"
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// ParseStrategy parses "off", "regex" or "instrument". The empty string
// selects Instrument.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "instrument":
		return Instrument, nil
	case "regex":
		return Regex, nil
	case "off":
		return Off, nil
	}
	return Off, fmt.Errorf("unknown break on load strategy %q", s)
}

// firstStatementPauseVersion is the first runtime version whose
// instrumentation pause is reported at the script's first statement
// rather than strictly before it.
const firstStatementPauseVersion = "v12.0.0"

type regexBreakpoint struct {
	id    DebuggeeID
	files map[string]bool
}

type pendingSource struct {
	id      resource.Identifier
	recipes map[RecipeID]bool
}

// BreakOnLoad stops the runtime when a script whose breakpoints are
// still pending loads, until those breakpoints are set.
type BreakOnLoad struct {
	strategy Strategy
	setter   DebuggeeBreakpointSetter
	instr    InstrumentationBreakpointsSetter
	parser   resource.Parser
	status   *StatusRegistry
	parsed   *ScriptParsedHandler
	log      logflags.Logger

	mu              sync.Mutex
	version         string
	pending         map[string]*pendingSource
	regexps         map[string]*regexBreakpoint
	fileRegexp      map[string]string
	heuristicIDs    map[DebuggeeID]bool
	instrumentation bool

	// released holds heuristic breakpoints removed since the runtime last
	// resumed. The runtime may report a pause they caused after they are
	// gone.
	released map[DebuggeeID]bool
}

// Strategy returns the configured strategy.
func (b *BreakOnLoad) Strategy() Strategy { return b.strategy }

// SetRuntimeVersion records the runtime version, as reported by the
// runtime (e.g. "v18.2.0").
func (b *BreakOnLoad) SetRuntimeVersion(v string) {
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = v
}

// pausesOnFirstStatement reports whether an instrumentation pause
// happens with the first statement about to run, in which case a
// breakpoint there will not pause again after resuming. Unknown
// versions are assumed to be recent.
func (b *BreakOnLoad) pausesOnFirstStatement() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !semver.IsValid(b.version) {
		return true
	}
	return semver.Compare(b.version, firstStatementPauseVersion) >= 0
}

// SetPending replaces the recipes pending for source. An empty list
// means source has nothing pending any more.
func (b *BreakOnLoad) SetPending(ctx context.Context, source resource.Identifier, recipes []RecipeID) {
	if b.strategy == Off {
		return
	}
	b.mu.Lock()
	canonical := source.Canonical()
	if len(recipes) == 0 {
		delete(b.pending, canonical)
	} else {
		ps := &pendingSource{id: source, recipes: make(map[RecipeID]bool)}
		for _, id := range recipes {
			ps.recipes[id] = true
		}
		b.pending[canonical] = ps
	}
	b.mu.Unlock()
	b.sync(ctx, canonical, source)
}

// Loaded tells b that source has a script now and its recipes were
// resolved.
func (b *BreakOnLoad) Loaded(ctx context.Context, source resource.Identifier) {
	b.SetPending(ctx, source, nil)
}

// Pending returns the recipes pending for source.
func (b *BreakOnLoad) Pending(source resource.Identifier) []RecipeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.pending[source.Canonical()]
	if !ok {
		return nil
	}
	out := make([]RecipeID, 0, len(ps.recipes))
	for id := range ps.recipes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *BreakOnLoad) sync(ctx context.Context, canonical string, source resource.Identifier) {
	switch b.strategy {
	case Regex:
		b.syncRegex(ctx, canonical, source)
	case Instrument:
		b.syncInstrumentation(ctx)
	}
}

// syncRegex makes sure source is covered by a stem regexp breakpoint if
// and only if it has pending recipes. Sources whose regexps coincide
// share one runtime breakpoint.
func (b *BreakOnLoad) syncRegex(ctx context.Context, canonical string, source resource.Identifier) {
	b.mu.Lock()
	_, want := b.pending[canonical]
	current, has := b.fileRegexp[canonical]
	switch {
	case want && !has:
		expr := stemRegexp(source, b.parser.CaseInsensitive)
		b.fileRegexp[canonical] = expr
		if rb, ok := b.regexps[expr]; ok {
			rb.files[canonical] = true
			b.mu.Unlock()
			return
		}
		rb := &regexBreakpoint{files: map[string]bool{canonical: true}}
		b.regexps[expr] = rb
		b.mu.Unlock()

		id, _, err := b.setter.SetBreakpointByURLRegexp(ctx, InURLRegexp{Regexp: expr, Position: location.At(0, 0)})
		b.mu.Lock()
		if err != nil {
			b.log.Warnf("setting break on load breakpoint %s: %v", expr, err)
			delete(b.regexps, expr)
			for f := range rb.files {
				delete(b.fileRegexp, f)
			}
			b.mu.Unlock()
			return
		}
		b.log.Debugf("break on load %s for %s", expr, source)
		if len(rb.files) == 0 {
			// Released while being set.
			delete(b.regexps, expr)
			b.released[id] = true
			b.mu.Unlock()
			b.remove(ctx, id)
			return
		}
		rb.id = id
		b.heuristicIDs[id] = true
		b.mu.Unlock()
	case !want && has:
		delete(b.fileRegexp, canonical)
		rb := b.regexps[current]
		delete(rb.files, canonical)
		if len(rb.files) > 0 || rb.id == "" {
			b.mu.Unlock()
			return
		}
		delete(b.regexps, current)
		delete(b.heuristicIDs, rb.id)
		b.released[rb.id] = true
		b.mu.Unlock()
		b.remove(ctx, rb.id)
	default:
		b.mu.Unlock()
	}
}

func (b *BreakOnLoad) remove(ctx context.Context, id DebuggeeID) {
	if err := b.setter.RemoveBreakpoint(ctx, id); err != nil {
		b.log.Warnf("removing break on load breakpoint %s: %v", id, err)
	}
}

// syncInstrumentation keeps the instrumentation breakpoint set exactly
// while some source has pending recipes.
func (b *BreakOnLoad) syncInstrumentation(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := len(b.pending) > 0
	if want == b.instrumentation {
		return
	}
	var err error
	if want {
		err = b.instr.SetInstrumentationBreakpoint(ctx, BeforeScriptExecution)
	} else {
		err = b.instr.RemoveInstrumentationBreakpoint(ctx, BeforeScriptExecution)
	}
	if err != nil {
		b.log.Warnf("toggling instrumentation breakpoint: %v", err)
		return
	}
	b.instrumentation = want
}

// stemRegexp matches any URL whose file name starts with the same stem
// (the base name up to its first dot) as source.
func stemRegexp(source resource.Identifier, caseInsensitive bool) string {
	stem := source.Base()
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return `^.*[\\/]` + quote(stem, caseInsensitive) + `(\.[^\\/]*)?$`
}

// IsHeuristic reports whether id is one of b's regexp breakpoints, or
// was one before the runtime last resumed.
func (b *BreakOnLoad) IsHeuristic(id DebuggeeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heuristicIDs[id] || b.released[id]
}

// Resumed tells b that the runtime resumed. Pauses caused by heuristic
// breakpoints removed before now were already reported.
func (b *BreakOnLoad) Resumed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.released) > 0 {
		b.released = make(map[DebuggeeID]bool)
	}
}

// RegexpCount returns the number of stem regexp breakpoints installed.
func (b *BreakOnLoad) RegexpCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.regexps)
}

// Vote implements pause.Voter. Pauses caused by break on load wait until
// the script's breakpoints are set, then resume unless a breakpoint is
// bound exactly at the paused location.
func (b *BreakOnLoad) Vote(ctx context.Context, ev pause.Event) pause.Vote {
	switch {
	case b.strategy == Instrument && ev.Reason == "instrumentation":
		if err := b.parsed.WaitUntilBreakpointsSet(ctx, ev.Location.Resource); err != nil {
			return pause.Abstained
		}
		if !b.pausesOnFirstStatement() {
			// A breakpoint at the first statement pauses on its own.
			return pause.ResumeAfterLoad
		}
		return b.continueUnlessCommitted(ev)
	case b.strategy == Regex && b.hitHeuristic(ev.HitBreakpoints):
		if err := b.parsed.WaitUntilBreakpointsSet(ctx, ev.Location.Resource); err != nil {
			return pause.Abstained
		}
		return b.continueUnlessCommitted(ev)
	}
	return pause.Abstained
}

func (b *BreakOnLoad) hitHeuristic(hits []string) bool {
	for _, h := range hits {
		if b.IsHeuristic(DebuggeeID(h)) {
			return true
		}
	}
	return false
}

func (b *BreakOnLoad) continueUnlessCommitted(ev pause.Event) pause.Vote {
	if b.status.Committed(ev.Location) {
		return pause.PauseAtBreakpoint
	}
	return pause.ResumeAfterLoad
}
