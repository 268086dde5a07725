package breakpoints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// Status messages shown to the client.
const (
	MsgNoScripts       = "no scripts loaded are associated with this source"
	MsgNotYetResolved  = "breakpoint set but not yet resolved by the runtime"
	MsgScriptUnloaded  = "script was unloaded"
	MsgInvalidHitCount = "invalid hit count condition"
)

// DebuggeeID is the runtime's id for a breakpoint it installed.
type DebuggeeID string

// Breakpoint is one place where a debuggee breakpoint actually bound.
type Breakpoint struct {
	Debuggee DebuggeeID
	Recipe   RecipeID
	Script   scripts.ScriptID
	// Runtime is the runtime source of Script.
	Runtime scripts.SourceID
	// Actual is where the runtime put the breakpoint, in Runtime's
	// coordinates. It may differ from the requested position.
	Actual location.Position
}

// ScriptLocation returns the bound location.
func (b Breakpoint) ScriptLocation() scripts.ScriptLocation {
	return location.New(b.Script, b.Actual)
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("%s@%s", b.Debuggee, b.ScriptLocation())
}

// RuntimeLocation keys a substatus: the runtime source and the position
// the recipe was planned at in it, before column snapping. Position is
// location.Unmapped when the recipe could not be mapped into the source.
type RuntimeLocation = location.Location[scripts.SourceID]

// invalidKey holds the substatus of recipes that cannot be installed at
// all.
var invalidKey = location.New(scripts.SourceID(-1), location.Unmapped)

// substatus is the outcome of one attempt at a runtime location. A
// substatus is bound iff it has breakpoints.
type substatus struct {
	breakpoints []Breakpoint
	reason      string
}

func (s substatus) bound() bool { return len(s.breakpoints) > 0 }

// StatusKind is the aggregate state of a recipe.
type StatusKind uint8

const (
	// Pending means no attempt was made yet: no substatuses.
	Pending StatusKind = iota
	// Bound means at least one runtime location is bound.
	Bound
	// Unbound means every attempt failed.
	Unbound
)

func (k StatusKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Bound:
		return "bound"
	case Unbound:
		return "unbound"
	}
	return fmt.Sprintf("StatusKind(%d)", uint8(k))
}

// Status is the client-visible state of a recipe. It is always computed
// from the recipe's substatuses.
type Status struct {
	Recipe ClientRecipe
	Kind   StatusKind
	// Message explains Pending and Unbound statuses.
	Message string
	// Breakpoints lists every bound location, in runtime location order.
	Breakpoints []Breakpoint
}

// Verified reports whether the client should show the recipe as bound.
func (s Status) Verified() bool { return s.Kind == Bound }

func (s Status) String() string {
	switch s.Kind {
	case Bound:
		parts := make([]string, len(s.Breakpoints))
		for i, bp := range s.Breakpoints {
			parts[i] = bp.String()
		}
		return fmt.Sprintf("%s: bound at %s", s.Recipe.Recipe, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%s: %s: %s", s.Recipe.Recipe, s.Kind, s.Message)
	}
}

func (s Status) equal(o Status) bool {
	if s.Kind != o.Kind || s.Message != o.Message || len(s.Breakpoints) != len(o.Breakpoints) {
		return false
	}
	for i := range s.Breakpoints {
		if s.Breakpoints[i] != o.Breakpoints[i] {
			return false
		}
	}
	return true
}

func compareRuntimeLocations(a, b RuntimeLocation) int {
	if a.Resource != b.Resource {
		if a.Resource < b.Resource {
			return -1
		}
		return 1
	}
	return a.Position.Compare(b.Position)
}

// aggregate derives a Status from substatuses. Any bound substatus makes
// the recipe Bound.
func aggregate(r ClientRecipe, subs map[RuntimeLocation]substatus) Status {
	st := Status{Recipe: r}
	if len(subs) == 0 {
		st.Kind, st.Message = Pending, MsgNoScripts
		return st
	}
	keys := make([]RuntimeLocation, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return compareRuntimeLocations(keys[i], keys[j]) < 0 })

	var reasons []string
	seen := map[string]bool{}
	for _, k := range keys {
		sub := subs[k]
		if sub.bound() {
			st.Breakpoints = append(st.Breakpoints, sub.breakpoints...)
		} else if !seen[sub.reason] {
			seen[sub.reason] = true
			reasons = append(reasons, sub.reason)
		}
	}
	if len(st.Breakpoints) > 0 {
		st.Kind = Bound
		return st
	}
	st.Kind, st.Message = Unbound, strings.Join(reasons, "; ")
	return st
}
