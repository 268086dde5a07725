package scripts

import (
	"github.com/go-delve/jsdebug/pkg/location"
)

// ScriptMapping is the result of mapping a source position into one
// script. When OK is false Reason says why the position could not be
// mapped.
type ScriptMapping struct {
	Script   ScriptID
	Runtime  SourceID
	Position location.Position
	OK       bool
	Reason   string
}

// Location returns the mapped position as a location in the script's
// runtime source.
func (m ScriptMapping) Location() SourceLocation {
	return location.New(m.Runtime, m.Position)
}

// MapToScripts maps a position in a loaded source to every live script
// associated with that source. Runtime and development sources map
// one-to-one; authored sources go through each script's source map.
func (r *Registry) MapToScripts(src SourceID, pos location.Position) []ScriptMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(src) < 0 || int(src) >= len(r.sources) {
		return nil
	}
	e := r.sources[src]
	var out []ScriptMapping
	for _, sid := range r.liveScriptsLocked(src) {
		s := r.scripts[sid]
		m := ScriptMapping{Script: sid, Runtime: s.Runtime}
		switch e.src.Role {
		case RoleRuntime, RoleDevelopment:
			m.Position, m.OK = pos, true
		case RoleMapped:
			m.Position, m.OK = s.Mapper.ToScript(s.authored[src], pos)
			if !m.OK {
				m.Reason = "no generated code at " + location.New(e.src.Identifier.String(), pos).String()
			}
		}
		out = append(out, m)
	}
	return out
}

// MapToSource maps a runtime location of a script back to the source a
// client should see. Scripts with a source map are mapped to the
// authored source when the position has a mapping; everything else is
// reported in the script's development source.
func (r *Registry) MapToSource(loc ScriptLocation) (SourceLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[loc.Resource]
	if !ok {
		return SourceLocation{}, false
	}
	if id, pos, ok := s.Mapper.ToSource(loc.Position); ok {
		key := sourceKey{canonical: r.cfg.Substitutions.Apply(id, r.cfg.Parser).Canonical(), role: RoleMapped}
		if sid, ok := r.byKey[key]; ok {
			return location.New(sid, pos), true
		}
	}
	return location.New(s.Development, loc.Position), true
}
