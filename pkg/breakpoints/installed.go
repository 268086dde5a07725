package breakpoints

import (
	"regexp"
	"sync"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// installed is a debuggee breakpoint set on behalf of a client recipe.
type installed struct {
	id     DebuggeeID
	recipe RecipeID
	// script is set for breakpoints set by script id.
	script scripts.ScriptID
	// urlRegexp is set for breakpoints set by URL regexp.
	urlRegexp *regexp.Regexp
	runtime   scripts.SourceID
	// planned is the position in the runtime source before snapping; it
	// is the substatus key of every location the breakpoint binds at.
	planned location.Position
	// position is where the breakpoint was requested after snapping.
	position location.Position
}

func (in installed) key(runtime scripts.SourceID) RuntimeLocation {
	return location.New(runtime, in.planned)
}

// installedSet records which debuggee breakpoints were set for which
// client recipe. It is only used to know what to remove and to route
// runtime notifications back to recipes.
type installedSet struct {
	mu       sync.Mutex
	byRecipe map[RecipeID][]installed
	byID     map[DebuggeeID]installed
	// inflight counts breakpoints being set. While it is not zero,
	// retired remembers the recipes removed meanwhile.
	inflight int
	retired  map[RecipeID]bool
}

func newInstalledSet() *installedSet {
	return &installedSet{
		byRecipe: make(map[RecipeID][]installed),
		byID:     make(map[DebuggeeID]installed),
		retired:  make(map[RecipeID]bool),
	}
}

// begin marks the start of a runtime call setting a breakpoint. Every
// begin is paired with an end.
func (s *installedSet) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
}

func (s *installedSet) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 && len(s.retired) > 0 {
		s.retired = make(map[RecipeID]bool)
	}
}

// add records in. It returns false if the recipe was retired while the
// breakpoint was being set, in which case the caller must remove the
// debuggee breakpoint itself.
func (s *installedSet) add(in installed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired[in.recipe] {
		return false
	}
	s.byRecipe[in.recipe] = append(s.byRecipe[in.recipe], in)
	s.byID[in.id] = in
	return true
}

// retire removes and returns every breakpoint of id. Breakpoints of id
// still being set are refused by add.
func (s *installedSet) retire(id RecipeID) []installed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.retired[id] = true
	}
	out := s.byRecipe[id]
	delete(s.byRecipe, id)
	for _, in := range out {
		delete(s.byID, in.id)
	}
	return out
}

func (s *installedSet) lookup(id DebuggeeID) (installed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	return in, ok
}

// covers reports whether an installed URL regexp breakpoint of recipe
// already applies to a script loaded from url at planned.
func (s *installedSet) covers(recipe RecipeID, url string, planned location.Position) bool {
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.byRecipe[recipe] {
		if in.urlRegexp != nil && in.planned == planned && in.urlRegexp.MatchString(url) {
			return true
		}
	}
	return false
}

// dropScripts forgets breakpoints set by id in scripts that no longer
// exist in the runtime.
func (s *installedSet) dropScripts(dead map[scripts.ScriptID]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for recipe, ins := range s.byRecipe {
		kept := ins[:0]
		for _, in := range ins {
			if in.script != "" && dead[in.script] {
				delete(s.byID, in.id)
				continue
			}
			kept = append(kept, in)
		}
		if len(kept) == 0 {
			delete(s.byRecipe, recipe)
		} else {
			s.byRecipe[recipe] = kept
		}
	}
}

func (s *installedSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *installedSet) retiredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retired)
}
