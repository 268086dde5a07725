package breakpoints

import (
	"context"
	"fmt"

	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Updater reconciles the full list of recipes the client wants in one
// source with what is registered and installed.
type Updater struct {
	scripts   *scripts.Registry
	setter    DebuggeeBreakpointSetter
	status    *StatusRegistry
	installed *installedSet
	resolver  *Resolver
	bol       *BreakOnLoad
	hits      *HitCounter
	log       logflags.Logger
}

// Update replaces the recipes of source with desired and returns one
// status per desired recipe, in order. Failures to bind are reported in
// the statuses, never as errors.
func (u *Updater) Update(ctx context.Context, source resource.Identifier, desired []Recipe) []Status {
	existing := u.status.RecipesForSource(source.Canonical())
	desired = append([]Recipe(nil), desired...)
	wanted := make(map[RecipeKey]bool, len(desired))
	for i := range desired {
		desired[i].Source = source
		wanted[desired[i].Key()] = true
	}

	var toRemove, toKeep []ClientRecipe
	have := make(map[RecipeKey]bool, len(existing))
	for _, r := range existing {
		have[r.Key()] = true
		if wanted[r.Key()] {
			toKeep = append(toKeep, r)
		} else {
			toRemove = append(toRemove, r)
		}
	}
	var toAdd []ClientRecipe
	for _, d := range desired {
		if have[d.Key()] {
			continue
		}
		have[d.Key()] = true
		toAdd = append(toAdd, u.status.Register(d))
	}
	u.log.Debugf("update %s: %d added, %d removed, %d kept", source, len(toAdd), len(toRemove), len(toKeep))

	src, ok := u.scripts.ResolveSource(source)
	loaded := ok && len(u.scripts.ScriptsForSource(src.ID)) > 0
	switch {
	case loaded && u.hasURL(src):
		// Add first: URL regexps are unique, so the old and new
		// breakpoints can coexist and the runtime is never unguarded.
		u.add(ctx, source, src, toAdd, toKeep)
		u.remove(ctx, toRemove)
	case loaded:
		// Breakpoints by script id cannot be told apart by the runtime
		// when they share a location, so the old ones go first.
		u.remove(ctx, toRemove)
		u.add(ctx, source, src, toAdd, toKeep)
	default:
		u.remove(ctx, toRemove)
		var pending []RecipeID
		for _, r := range append(toKeep, toAdd...) {
			if st, ok := u.status.Status(r.ID); ok && !st.Verified() {
				pending = append(pending, r.ID)
			}
		}
		u.bol.SetPending(ctx, source, pending)
	}

	out := make([]Status, 0, len(desired))
	for _, d := range desired {
		r, ok := u.status.Lookup(d)
		if !ok {
			panic(fmt.Sprintf("recipe %s requested but not registered", d))
		}
		st, _ := u.status.Status(r.ID)
		out = append(out, st)
	}
	return out
}

// hasURL reports whether the runtime sources behind src have URLs. The
// order of add and remove depends on it; it is an approximation of
// whether the runtime can keep the old and new breakpoints apart.
func (u *Updater) hasURL(src scripts.Source) bool {
	for _, id := range u.scripts.ScriptsForSource(src.ID) {
		s, err := u.scripts.Script(id)
		if err != nil {
			continue
		}
		if rt, ok := u.scripts.Source(s.Runtime); ok && !rt.HasURL {
			return false
		}
	}
	return true
}

func (u *Updater) add(ctx context.Context, source resource.Identifier, src scripts.Source, toAdd, toKeep []ClientRecipe) {
	for _, r := range toAdd {
		u.resolver.resolve(ctx, r, src, "", false)
	}
	// Kept recipes that never got an attempt, e.g. because the source
	// had no live script when they were registered.
	for _, r := range toKeep {
		if st, ok := u.status.Status(r.ID); ok && st.Kind == Pending {
			u.resolver.resolve(ctx, r, src, "", true)
		}
	}
	u.bol.Loaded(ctx, source)
}

// remove uninstalls the debuggee breakpoints of each recipe, then
// unregisters it.
func (u *Updater) remove(ctx context.Context, recipes []ClientRecipe) {
	for _, r := range recipes {
		for _, in := range u.installed.retire(r.ID) {
			if err := u.setter.RemoveBreakpoint(ctx, in.id); err != nil {
				u.log.Warnf("removing %s of %s: %v", in.id, r.Recipe, err)
			}
		}
		u.hits.Reset(r.ID)
		u.status.unregister(r.ID)
	}
}
