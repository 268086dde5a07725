// Package scripts tracks the scripts a runtime has parsed and the
// loaded sources (runtime, development and source-map-authored) they
// are associated with.
//
// The Registry owns every Script, Source and ExecutionContext; the rest
// of the adapter refers to them by ScriptID, SourceID and
// ExecutionContextID handles.
package scripts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/sourcemap"
)

// Config configures a Registry.
type Config struct {
	Parser resource.Parser
	// Substitutions map runtime URLs and source map paths to workspace
	// paths.
	Substitutions resource.Rules
	// SourceMaps may be nil, in which case source maps are ignored.
	SourceMaps sourcemap.Provider
}

// Registry is the arena that owns scripts, sources and contexts.
type Registry struct {
	cfg Config
	log logflags.Logger

	mu       sync.RWMutex
	scripts  map[ScriptID]*Script
	sources  []*sourceEntry // indexed by SourceID
	byKey    map[sourceKey]SourceID
	suffixes *trie.Trie
	contexts map[ExecutionContextID]*ExecutionContext
}

// New returns an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      logflags.SourcesLogger(),
		scripts:  make(map[ScriptID]*Script),
		byKey:    make(map[sourceKey]SourceID),
		suffixes: trie.New(),
		contexts: make(map[ExecutionContextID]*ExecutionContext),
	}
}

// Parser returns the identifier parser the registry uses.
func (r *Registry) Parser() resource.Parser { return r.cfg.Parser }

// AddScript records a parsed script and creates its sources. It returns
// the script and the sources that became visible because of it (newly
// created, or reachable again after a context teardown).
//
// A source map that cannot be loaded is logged and the script is
// treated as unmapped.
func (r *Registry) AddScript(ctx context.Context, ev ScriptParsed) (*Script, []Source, error) {
	if ev.ID == "" {
		return nil, nil, fmt.Errorf("script parsed without id")
	}
	runtimeID := r.runtimeIdentifier(ev)
	developmentID := r.cfg.Substitutions.Apply(runtimeID, r.cfg.Parser)

	mapper := sourcemap.NoMapper()
	var authored, raw []resource.Identifier
	if ev.SourceMapURL != "" && r.cfg.SourceMaps != nil && ev.URL != "" {
		sm, err := r.cfg.SourceMaps.SourceMapFor(ctx, runtimeID, ev.SourceMapURL)
		if err != nil {
			r.log.Warnf("%s: %v", ev.URL, err)
		} else if sm != nil {
			mapper = sourcemap.NewMapper(sm, ev.Start)
			for _, src := range sm.AuthoredSources() {
				raw = append(raw, src)
				authored = append(authored, r.cfg.Substitutions.Apply(src, r.cfg.Parser))
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.scripts[ev.ID]; dup {
		return nil, nil, fmt.Errorf("script %s parsed twice", ev.ID)
	}
	ectx := r.contextLocked(ev.Context)

	var visible []Source
	runtimeSrc, fresh := r.sourceLocked(runtimeID, RoleRuntime, ev.URL != "")
	if fresh {
		visible = append(visible, runtimeSrc.src)
	}
	devSrc, fresh := r.sourceLocked(developmentID, RoleDevelopment, true)
	if fresh {
		visible = append(visible, devSrc.src)
	}
	runtimeSrc.development = devSrc.src.ID

	script := &Script{
		ID:          ev.ID,
		URL:         ev.URL,
		Context:     ectx.ID,
		Range:       location.Range{Start: ev.Start, End: ev.End},
		Runtime:     runtimeSrc.src.ID,
		Development: devSrc.src.ID,
		Mapper:      mapper,
		authored:    make(map[SourceID]resource.Identifier),
	}
	runtimeSrc.addScript(script.ID)
	devSrc.addScript(script.ID)
	for i, id := range authored {
		mapped, fresh := r.sourceLocked(id, RoleMapped, true)
		if fresh {
			visible = append(visible, mapped.src)
		}
		mapped.addScript(script.ID)
		devSrc.addMapped(mapped.src.ID)
		script.Mapped = append(script.Mapped, mapped.src.ID)
		script.authored[mapped.src.ID] = raw[i]
	}
	r.scripts[script.ID] = script
	r.log.Debugf("parsed %s runtime=%s development=%s mapped=%d", script, runtimeID, developmentID, len(script.Mapped))
	return script, visible, nil
}

func (r *Registry) runtimeIdentifier(ev ScriptParsed) resource.Identifier {
	if ev.URL != "" {
		return r.cfg.Parser.Parse(ev.URL)
	}
	// Scripts without a URL get a name that can never collide with one.
	return r.cfg.Parser.Parse(fmt.Sprintf("jsdebug-internal://VM%s", ev.ID))
}

// sourceLocked finds or creates the source (id, role). fresh is true if
// the source was created or made reachable again.
func (r *Registry) sourceLocked(id resource.Identifier, role Role, hasURL bool) (*sourceEntry, bool) {
	key := sourceKey{canonical: id.Canonical(), role: role}
	if sid, ok := r.byKey[key]; ok {
		e := r.sources[sid]
		if e.unreachable {
			e.unreachable = false
			return e, true
		}
		return e, false
	}
	e := &sourceEntry{src: Source{ID: SourceID(len(r.sources)), Identifier: id, Role: role, HasURL: hasURL}}
	r.sources = append(r.sources, e)
	r.byKey[key] = e.src.ID
	r.suffixes.Add(reverse(id.Canonical()), nil)
	return e, true
}

func (r *Registry) contextLocked(id ExecutionContextID) *ExecutionContext {
	c, ok := r.contexts[id]
	if !ok {
		c = &ExecutionContext{ID: id}
		r.contexts[id] = c
	}
	return c
}

// AddContext records a new execution context.
func (r *Registry) AddContext(id ExecutionContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contextLocked(id)
}

// DestroyContext marks a context destroyed. It returns the scripts that
// lived in it and the sources that are no longer reachable from any live
// script. Destroying a context twice is an error.
func (r *Registry) DestroyContext(id ExecutionContextID) ([]ScriptID, []Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		c = r.contextLocked(id)
	}
	if err := c.markDestroyed(); err != nil {
		return nil, nil, err
	}
	var dead []ScriptID
	for _, s := range r.scripts {
		if s.Context == id {
			dead = append(dead, s.ID)
		}
	}
	var removed []Source
	for _, e := range r.sources {
		if e.unreachable || len(e.scripts) == 0 {
			continue
		}
		if !r.anyLiveLocked(e.scripts) {
			e.unreachable = true
			removed = append(removed, e.src)
		}
	}
	return dead, removed, nil
}

func (r *Registry) anyLiveLocked(ids []ScriptID) bool {
	for _, id := range ids {
		if s, ok := r.scripts[id]; ok && !r.contexts[s.Context].destroyed {
			return true
		}
	}
	return false
}

// IsLive reports whether the script's execution context is still alive.
func (r *Registry) IsLive(id ScriptID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[id]
	return ok && !r.contexts[s.Context].destroyed
}

// LiveContexts returns the contexts that were not destroyed, in
// ascending order.
func (r *Registry) LiveContexts() []ExecutionContextID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ExecutionContextID
	for id, c := range r.contexts {
		if !c.destroyed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Script returns the script with the given id. Scripts of destroyed
// contexts remain queryable.
func (r *Registry) Script(id ScriptID) (*Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScript, id)
	}
	return s, nil
}

// Source returns the source with the given handle.
func (r *Registry) Source(id SourceID) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(r.sources) {
		return Source{}, false
	}
	return r.sources[id].src, true
}

// Development returns the development source of a runtime source.
func (r *Registry) Development(runtime SourceID) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(runtime) < 0 || int(runtime) >= len(r.sources) || r.sources[runtime].src.Role != RoleRuntime {
		return Source{}, false
	}
	return r.sources[r.sources[runtime].development].src, true
}

// ScriptsForSource returns the live scripts associated with a source, in
// parse order.
func (r *Registry) ScriptsForSource(id SourceID) []ScriptID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveScriptsLocked(id)
}

func (r *Registry) liveScriptsLocked(id SourceID) []ScriptID {
	if int(id) < 0 || int(id) >= len(r.sources) {
		return nil
	}
	var out []ScriptID
	for _, sid := range r.sources[id].scripts {
		if s := r.scripts[sid]; !r.contexts[s.Context].destroyed {
			out = append(out, sid)
		}
	}
	return out
}

// SourcesOf returns every source of a script: runtime, development and
// mapped, in that order.
func (r *Registry) SourcesOf(id ScriptID) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[id]
	if !ok {
		return nil
	}
	out := []Source{r.sources[s.Runtime].src, r.sources[s.Development].src}
	for _, m := range s.Mapped {
		out = append(out, r.sources[m].src)
	}
	return out
}

// BestSource returns the source a client should be shown for a script:
// its first authored source if it has a source map, its development
// source otherwise.
func (r *Registry) BestSource(id ScriptID) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[id]
	if !ok {
		return Source{}, false
	}
	if len(s.Mapped) > 0 {
		return r.sources[s.Mapped[0]].src, true
	}
	return r.sources[s.Development].src, true
}

// LoadedSources returns the reachable development and mapped sources.
func (r *Registry) LoadedSources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for _, e := range r.sources {
		if e.src.Role != RoleRuntime && !e.unreachable && len(e.scripts) > 0 {
			out = append(out, e.src)
		}
	}
	return out
}

var rolePreference = [...]Role{RoleMapped, RoleDevelopment, RoleRuntime}

// ResolveSource finds the loaded source a client identifier designates.
// An exact match is preferred, trying authored, then development, then
// runtime sources. Failing that, the source whose path shares the
// longest trailing run of path segments with id is used, as long as at
// least the file name and its directory match and the best candidate is
// unambiguous.
func (r *Registry) ResolveSource(id resource.Identifier) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range rolePreference {
		if sid, ok := r.byKey[sourceKey{canonical: id.Canonical(), role: role}]; ok && !r.sources[sid].unreachable {
			return r.sources[sid].src, true
		}
	}
	canonical, ok := r.suffixMatchLocked(id.Canonical())
	if !ok {
		return Source{}, false
	}
	for _, role := range rolePreference {
		if sid, ok := r.byKey[sourceKey{canonical: canonical, role: role}]; ok && !r.sources[sid].unreachable {
			return r.sources[sid].src, true
		}
	}
	return Source{}, false
}

// Matches reports whether a client identifier designates src, using the
// same rules as ResolveSource.
func (r *Registry) Matches(id resource.Identifier, src Source) bool {
	if id.Equal(src.Identifier) {
		return true
	}
	best, ok := r.ResolveSource(id)
	return ok && best.Identifier.Equal(src.Identifier)
}

func (r *Registry) suffixMatchLocked(canonical string) (string, bool) {
	base := canonical
	if i := strings.LastIndexAny(canonical, "/"); i >= 0 {
		base = canonical[i:]
	}
	candidates := r.suffixes.PrefixSearch(reverse(base))
	bestLen, best, ambiguous := 0, "", false
	for _, c := range candidates {
		cand := reverse(c)
		n := commonTrailingSegments(cand, canonical)
		switch {
		case n > bestLen:
			bestLen, best, ambiguous = n, cand, false
		case n == bestLen && cand != best:
			ambiguous = true
		}
	}
	if bestLen < 2 || ambiguous {
		if ambiguous && bestLen >= 2 {
			r.log.Warnf("%s matches several loaded sources, not resolving it", canonical)
		}
		return "", false
	}
	return best, true
}

func commonTrailingSegments(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "/"), "/")
	bs := strings.Split(strings.TrimPrefix(b, "/"), "/")
	n := 0
	for n < len(as) && n < len(bs) && as[len(as)-1-n] == bs[len(bs)-1-n] {
		n++
	}
	return n
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// SourcesByIdentifier returns the reachable sources named id, in role
// order.
func (r *Registry) SourcesByIdentifier(id resource.Identifier) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for _, role := range [...]Role{RoleRuntime, RoleDevelopment, RoleMapped} {
		if sid, ok := r.byKey[sourceKey{canonical: id.Canonical(), role: role}]; ok && !r.sources[sid].unreachable {
			out = append(out, r.sources[sid].src)
		}
	}
	return out
}

// FindBySuffix returns the canonical names of every known source that
// ends with suffix.
func (r *Registry) FindBySuffix(suffix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.suffixes.PrefixSearch(reverse(suffix))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, reverse(k))
	}
	sort.Strings(out)
	return out
}
