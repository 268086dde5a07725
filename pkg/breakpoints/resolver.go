package breakpoints

import (
	"context"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Resolver binds recipes at loaded sources.
type Resolver struct {
	scripts   *scripts.Registry
	setter    DebuggeeBreakpointSetter
	status    *StatusRegistry
	installed *installedSet
	// columns is false for runtimes without column breakpoints.
	columns bool
	log     logflags.Logger
}

// resolve binds r at every live script of src. If only is set, only
// that script is considered. If guard is set, runtime locations where r
// is already bound, or already covered by one of its URL regexps, are
// skipped.
//
// Failures are recorded as unbound substatuses; resolve never fails.
func (rs *Resolver) resolve(ctx context.Context, r ClientRecipe, src scripts.Source, only scripts.ScriptID, guard bool) {
	if err := r.Action.validate(); err != nil {
		rs.status.Fail(r.ID, invalidKey, err.Error())
		return
	}
	type plannedKey struct {
		runtime scripts.SourceID
		pos     location.Position
	}
	seen := map[plannedKey]bool{}
	var g errgroup.Group
	for _, m := range rs.scripts.MapToScripts(src.ID, r.Position) {
		if only != "" && m.Script != only {
			continue
		}
		// A URL regexp covers every script of the same runtime source.
		k := plannedKey{m.Runtime, m.Position}
		if seen[k] {
			continue
		}
		seen[k] = true
		m := m
		g.Go(func() error {
			rs.resolveInScript(ctx, r, m, guard)
			return nil
		})
	}
	_ = g.Wait()
}

func (rs *Resolver) resolveInScript(ctx context.Context, r ClientRecipe, m scripts.ScriptMapping, guard bool) {
	if !m.OK {
		rs.status.Fail(r.ID, location.New(m.Runtime, location.Unmapped), m.Reason)
		return
	}
	key := location.New(m.Runtime, m.Position)
	script, err := rs.scripts.Script(m.Script)
	if err != nil {
		rs.status.Fail(r.ID, key, err.Error())
		return
	}
	if guard && (rs.status.IsBoundAt(r.ID, key) || rs.installed.covers(r.ID, script.URL, m.Position)) {
		rs.log.Debugf("%s already set at %s for %s", r.Recipe, key, script)
		return
	}
	rt, _ := rs.scripts.Source(m.Runtime)
	pos := rs.snap(ctx, m.Script, m.Position)
	cond := r.Action.runtimeCondition()
	in := installed{recipe: r.ID, runtime: m.Runtime, planned: m.Position, position: pos}

	var locs []scripts.ScriptLocation
	rs.installed.begin()
	defer rs.installed.end()
	if rt.HasURL {
		expr := URLRegexp(script.URL, rs.scripts.Parser().CaseInsensitive && rt.Identifier.IsLocal())
		in.urlRegexp, err = regexp.Compile(expr)
		if err == nil {
			in.id, locs, err = rs.setter.SetBreakpointByURLRegexp(ctx, InURLRegexp{Regexp: expr, Position: pos, Condition: cond})
		}
	} else {
		var loc scripts.ScriptLocation
		in.script = m.Script
		in.id, loc, err = rs.setter.SetBreakpoint(ctx, InScript{Script: m.Script, Position: pos, Condition: cond})
		locs = []scripts.ScriptLocation{loc}
	}
	if err != nil {
		rs.log.Debugf("setting %s at %s: %v", r.Recipe, key, err)
		rs.status.Fail(r.ID, key, err.Error())
		return
	}
	if !rs.installed.add(in) {
		// The recipe was removed while the breakpoint was being set.
		if err := rs.setter.RemoveBreakpoint(ctx, in.id); err != nil {
			rs.log.Warnf("removing breakpoint %s of removed recipe %d: %v", in.id, r.ID, err)
		}
		return
	}
	rs.log.Debugf("set %s as %s at %s", r.Recipe, in.id, location.New(m.Script, pos))
	if len(locs) == 0 {
		rs.status.Fail(r.ID, key, MsgNotYetResolved)
		return
	}
	for _, loc := range locs {
		rs.bindAt(r.ID, in, loc)
	}
}

// bindAt records that in bound at loc.
func (rs *Resolver) bindAt(recipe RecipeID, in installed, loc scripts.ScriptLocation) {
	s, err := rs.scripts.Script(loc.Resource)
	if err != nil {
		rs.log.Debugf("breakpoint %s bound in unknown script %s", in.id, loc.Resource)
		return
	}
	rs.status.Bind(recipe, in.key(s.Runtime), Breakpoint{
		Debuggee: in.id,
		Recipe:   recipe,
		Script:   s.ID,
		Runtime:  s.Runtime,
		Actual:   loc.Position,
	})
}

// snap moves pos to the first breakable position at or after it on the
// same line. Without column breakpoints, or when nothing is breakable on
// the rest of the line, the whole line is searched the same way. If that
// finds nothing either pos is returned unchanged.
func (rs *Resolver) snap(ctx context.Context, script scripts.ScriptID, pos location.Position) location.Position {
	if rs.columns {
		if p, ok := rs.firstAtOrAfter(ctx, script, location.RestOfLine(pos), pos); ok {
			return p
		}
	}
	if p, ok := rs.firstAtOrAfter(ctx, script, location.WholeLine(pos), pos); ok {
		return p
	}
	return pos
}

func (rs *Resolver) firstAtOrAfter(ctx context.Context, script scripts.ScriptID, r location.Range, pos location.Position) (location.Position, bool) {
	possible, err := rs.setter.PossibleBreakpoints(ctx, script, r)
	if err != nil {
		rs.log.Debugf("possible breakpoints of %s in %v: %v", script, r, err)
		return location.Position{}, false
	}
	col := pos.ColumnOrZero()
	for _, p := range possible {
		if p.Line == pos.Line && p.ColumnOrZero() >= col {
			return p, true
		}
	}
	return location.Position{}, false
}
