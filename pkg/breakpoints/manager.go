package breakpoints

import (
	"context"
	"sort"

	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/pause"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Config configures a Manager.
type Config struct {
	Scripts         *scripts.Registry
	Setter          DebuggeeBreakpointSetter
	Instrumentation InstrumentationBreakpointsSetter
	Bus             *events.Bus
	Strategy        Strategy
	// ColumnBreakpoints enables snapping to the rest of the requested
	// line before falling back to the whole line.
	ColumnBreakpoints bool
}

// Manager wires the breakpoint components of one debug session.
type Manager struct {
	scripts   *scripts.Registry
	status    *StatusRegistry
	installed *installedSet
	resolver  *Resolver
	parsed    *ScriptParsedHandler
	bol       *BreakOnLoad
	updater   *Updater
	hits      *HitCounter
	log       logflags.Logger

	// queue serializes updates, script reconciliations and context
	// teardown.
	queue *taskQueue
}

// New returns a Manager with no recipes.
func New(cfg Config) *Manager {
	log := logflags.BreakpointsLogger()
	m := &Manager{
		scripts:   cfg.Scripts,
		status:    NewStatusRegistry(cfg.Bus),
		installed: newInstalledSet(),
		hits:      &HitCounter{},
		log:       log,
		queue:     &taskQueue{},
	}
	m.resolver = &Resolver{
		scripts:   cfg.Scripts,
		setter:    cfg.Setter,
		status:    m.status,
		installed: m.installed,
		columns:   cfg.ColumnBreakpoints,
		log:       log,
	}
	m.bol = &BreakOnLoad{
		strategy:     cfg.Strategy,
		setter:       cfg.Setter,
		instr:        cfg.Instrumentation,
		parser:       cfg.Scripts.Parser(),
		status:       m.status,
		log:          log,
		pending:      make(map[string]*pendingSource),
		regexps:      make(map[string]*regexBreakpoint),
		fileRegexp:   make(map[string]string),
		heuristicIDs: make(map[DebuggeeID]bool),
		released:     make(map[DebuggeeID]bool),
	}
	if cfg.Strategy == Instrument && cfg.Instrumentation == nil {
		m.bol.strategy = Off
	}
	m.parsed = &ScriptParsedHandler{
		scripts:  cfg.Scripts,
		status:   m.status,
		resolver: m.resolver,
		bol:      m.bol,
		queue:    m.queue,
		signals:  make(map[scripts.ScriptID]chan struct{}),
	}
	m.bol.parsed = m.parsed
	m.updater = &Updater{
		scripts:   cfg.Scripts,
		setter:    cfg.Setter,
		status:    m.status,
		installed: m.installed,
		resolver:  m.resolver,
		bol:       m.bol,
		hits:      m.hits,
		log:       log,
	}
	return m
}

// Status returns the status registry.
func (m *Manager) Status() *StatusRegistry { return m.status }

// BreakOnLoad returns the break on load component.
func (m *Manager) BreakOnLoad() *BreakOnLoad { return m.bol }

// Update replaces the recipes of source. See Updater.Update. It waits
// for the reconciliations scheduled before it.
func (m *Manager) Update(ctx context.Context, source resource.Identifier, desired []Recipe) []Status {
	var out []Status
	m.queue.do(func() {
		out = m.updater.Update(ctx, source, desired)
	})
	return out
}

// ScriptParsed reconciles the registered recipes with a new script. See
// ScriptParsedHandler.ScriptParsed.
func (m *Manager) ScriptParsed(ctx context.Context, script *scripts.Script) <-chan struct{} {
	return m.parsed.ScriptParsed(ctx, script)
}

// WaitUntilBreakpointsSet waits for the reconciliation of script.
func (m *Manager) WaitUntilBreakpointsSet(ctx context.Context, script scripts.ScriptID) error {
	return m.parsed.WaitUntilBreakpointsSet(ctx, script)
}

// BreakpointResolved records that the runtime bound debuggee breakpoint
// id at loc after it was set.
func (m *Manager) BreakpointResolved(id DebuggeeID, loc scripts.ScriptLocation) {
	in, ok := m.installed.lookup(id)
	if !ok {
		m.log.Debugf("resolved unknown breakpoint %s at %s", id, loc)
		return
	}
	m.resolver.bindAt(in.recipe, in, loc)
}

// ScriptsDestroyed forgets the breakpoints bound in scripts whose
// execution context was destroyed.
func (m *Manager) ScriptsDestroyed(ids []scripts.ScriptID) {
	if len(ids) == 0 {
		return
	}
	dead := make(map[scripts.ScriptID]bool, len(ids))
	for _, id := range ids {
		dead[id] = true
	}
	m.queue.do(func() {
		m.installed.dropScripts(dead)
		m.status.dropScripts(dead)
	})
	m.parsed.forget(dead)
}

// Resumed tells the manager that the runtime resumed execution.
func (m *Manager) Resumed() { m.bol.Resumed() }

// RecipeOf returns the recipe debuggee breakpoint id was set for.
func (m *Manager) RecipeOf(id DebuggeeID) (ClientRecipe, bool) {
	in, ok := m.installed.lookup(id)
	if !ok {
		return ClientRecipe{}, false
	}
	return m.status.Recipe(in.recipe)
}

// Vote implements pause.Voter for breakpoint hits: hit counts that are
// not reached resume, everything else pauses.
func (m *Manager) Vote(ctx context.Context, ev pause.Event) pause.Vote {
	seen := map[RecipeID]bool{}
	var ids []RecipeID
	for _, h := range ev.HitBreakpoints {
		r, ok := m.RecipeOf(DebuggeeID(h))
		if !ok || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	vote := pause.Abstained
	for _, id := range ids {
		r, _ := m.status.Recipe(id)
		switch r.Action.Kind {
		case BreakOnHitCount:
			cond, err := ParseHitCondition(r.Action.Expression)
			if err != nil {
				continue
			}
			// Every hit recipe counts, even if another one already
			// decided to pause.
			if n := m.hits.Hit(id); cond.Satisfied(n) {
				vote = pause.PauseAtBreakpoint
			} else if vote == pause.Abstained {
				vote = pause.ResumeHitCountNotMet
			}
		case LogMessage:
			// Log points never pause; the runtime condition is false.
		default:
			vote = pause.PauseAtBreakpoint
		}
	}
	return vote
}

// Wait blocks until every script reconciliation started so far is done.
func (m *Manager) Wait() { m.parsed.Wait() }
