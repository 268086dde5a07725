package breakpoints

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// StatusReason says why a StatusChanged event was published.
type StatusReason uint8

const (
	StatusNew StatusReason = iota
	StatusUpdated
	StatusRemoved
)

func (r StatusReason) String() string {
	switch r {
	case StatusNew:
		return "new"
	case StatusUpdated:
		return "changed"
	case StatusRemoved:
		return "removed"
	}
	return fmt.Sprintf("StatusReason(%d)", uint8(r))
}

// StatusChanged is published on the bus every time a recipe is
// registered, its aggregate status changes, or it is unregistered.
// Events for one recipe are published in the order the transitions
// happened.
type StatusChanged struct {
	Reason StatusReason
	Status Status
}

type recipeEntry struct {
	recipe ClientRecipe
	subs   map[RuntimeLocation]substatus
	last   Status
}

// StatusRegistry owns the mapping from client recipe to per runtime
// location substatus.
type StatusRegistry struct {
	bus *events.Bus

	mu      sync.Mutex
	nextID  RecipeID
	recipes map[RecipeID]*recipeEntry
	byKey   map[RecipeKey]RecipeID
}

// NewStatusRegistry returns an empty registry publishing on bus.
func NewStatusRegistry(bus *events.Bus) *StatusRegistry {
	return &StatusRegistry{
		bus:     bus,
		nextID:  1,
		recipes: make(map[RecipeID]*recipeEntry),
		byKey:   make(map[RecipeKey]RecipeID),
	}
}

// Register registers r, or returns the existing registration of an
// identical recipe.
func (sr *StatusRegistry) Register(r Recipe) ClientRecipe {
	if r.Source.IsEmpty() {
		panic(fmt.Sprintf("registering breakpoint recipe %s without a source", r))
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if id, ok := sr.byKey[r.Key()]; ok {
		return sr.recipes[id].recipe
	}
	cr := ClientRecipe{ID: sr.nextID, Recipe: r}
	sr.nextID++
	e := &recipeEntry{recipe: cr, subs: make(map[RuntimeLocation]substatus)}
	e.last = aggregate(cr, e.subs)
	sr.recipes[cr.ID] = e
	sr.byKey[r.Key()] = cr.ID
	sr.bus.Publish(StatusChanged{Reason: StatusNew, Status: e.last})
	return cr
}

// unregister forgets a recipe. Callers must have uninstalled its
// debuggee breakpoints first.
func (sr *StatusRegistry) unregister(id RecipeID) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.recipes[id]
	if !ok {
		return
	}
	delete(sr.recipes, id)
	delete(sr.byKey, e.recipe.Key())
	sr.bus.Publish(StatusChanged{Reason: StatusRemoved, Status: e.last})
}

// Lookup returns the registered recipe identical to r.
func (sr *StatusRegistry) Lookup(r Recipe) (ClientRecipe, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	id, ok := sr.byKey[r.Key()]
	if !ok {
		return ClientRecipe{}, false
	}
	return sr.recipes[id].recipe, true
}

// IsRegistered reports whether id is still registered.
func (sr *StatusRegistry) IsRegistered(id RecipeID) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	_, ok := sr.recipes[id]
	return ok
}

// Recipe returns the registered recipe id.
func (sr *StatusRegistry) Recipe(id RecipeID) (ClientRecipe, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.recipes[id]
	if !ok {
		return ClientRecipe{}, false
	}
	return e.recipe, true
}

// Recipes returns every registered recipe in registration order.
func (sr *StatusRegistry) Recipes() []ClientRecipe {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]ClientRecipe, 0, len(sr.recipes))
	for _, e := range sr.recipes {
		out = append(out, e.recipe)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecipesForSource returns the recipes the client registered against
// source (by canonical name), in registration order.
func (sr *StatusRegistry) RecipesForSource(canonical string) []ClientRecipe {
	var out []ClientRecipe
	for _, r := range sr.Recipes() {
		if r.Source.Canonical() == canonical {
			out = append(out, r)
		}
	}
	return out
}

// Status returns the current status of id.
func (sr *StatusRegistry) Status(id RecipeID) (Status, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.recipes[id]
	if !ok {
		return Status{}, false
	}
	return e.last, true
}

// IsBoundAt reports whether id has a bound substatus at key.
func (sr *StatusRegistry) IsBoundAt(id RecipeID, key RuntimeLocation) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.recipes[id]
	return ok && e.subs[key].bound()
}

// Bind adds bound breakpoints to the substatus at key. Breakpoints
// already recorded there are not duplicated.
func (sr *StatusRegistry) Bind(id RecipeID, key RuntimeLocation, bps ...Breakpoint) {
	sr.update(id, func(e *recipeEntry) {
		sub := e.subs[key]
	next:
		for _, bp := range bps {
			for _, have := range sub.breakpoints {
				if have == bp {
					continue next
				}
			}
			sub.breakpoints = append(sub.breakpoints, bp)
		}
		sub.reason = ""
		e.subs[key] = sub
	})
}

// Fail records a failed attempt at key. A bound substatus is kept: a
// later failure at the same runtime location does not unbind it.
func (sr *StatusRegistry) Fail(id RecipeID, key RuntimeLocation, reason string) {
	sr.update(id, func(e *recipeEntry) {
		if e.subs[key].bound() {
			return
		}
		e.subs[key] = substatus{reason: reason}
	})
}

// dropScripts removes every bound breakpoint that lives in one of the
// given scripts. Substatuses left without breakpoints become unbound.
func (sr *StatusRegistry) dropScripts(dead map[scripts.ScriptID]bool) {
	sr.mu.Lock()
	ids := make([]RecipeID, 0, len(sr.recipes))
	for id := range sr.recipes {
		ids = append(ids, id)
	}
	sr.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sr.update(id, func(e *recipeEntry) {
			for key, sub := range e.subs {
				if !sub.bound() {
					continue
				}
				kept := sub.breakpoints[:0:0]
				for _, bp := range sub.breakpoints {
					if !dead[bp.Script] {
						kept = append(kept, bp)
					}
				}
				if len(kept) == 0 {
					e.subs[key] = substatus{reason: MsgScriptUnloaded}
				} else {
					e.subs[key] = substatus{breakpoints: kept}
				}
			}
		})
	}
}

// Committed reports whether some registered recipe is bound exactly at
// loc.
func (sr *StatusRegistry) Committed(loc scripts.ScriptLocation) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for _, e := range sr.recipes {
		for _, bp := range e.last.Breakpoints {
			if bp.Script == loc.Resource && samePosition(bp.Actual, loc.Position) {
				return true
			}
		}
	}
	return false
}

func samePosition(a, b location.Position) bool {
	return a.Line == b.Line && a.ColumnOrZero() == b.ColumnOrZero()
}

// update applies fn to the entry of id and publishes the new status if
// it changed. Updates of unregistered recipes are ignored.
func (sr *StatusRegistry) update(id RecipeID, fn func(*recipeEntry)) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.recipes[id]
	if !ok {
		return
	}
	fn(e)
	st := aggregate(e.recipe, e.subs)
	if st.equal(e.last) {
		return
	}
	e.last = st
	sr.bus.Publish(StatusChanged{Reason: StatusUpdated, Status: st})
}
