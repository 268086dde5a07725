package sourcemap

import (
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// Mapper translates between the positions of one script and the
// authored sources its source map refers to. Script positions are in
// the coordinate system of the runtime source the script is embedded in.
type Mapper interface {
	// Sources returns the authored sources, empty for scripts without a
	// source map.
	Sources() []resource.Identifier
	// ToScript maps an authored position into the script.
	ToScript(source resource.Identifier, pos location.Position) (location.Position, bool)
	// ToSource maps a script position back to an authored source.
	ToSource(pos location.Position) (resource.Identifier, location.Position, bool)
}

// NoMapper returns the Mapper of a script that has no source map.
func NoMapper() Mapper { return noMapper{} }

type noMapper struct{}

func (noMapper) Sources() []resource.Identifier { return nil }

func (noMapper) ToScript(resource.Identifier, location.Position) (location.Position, bool) {
	return location.Position{}, false
}

func (noMapper) ToSource(location.Position) (resource.Identifier, location.Position, bool) {
	return resource.Identifier{}, location.Position{}, false
}

// NewMapper returns a Mapper for a script whose text starts at
// scriptStart within its runtime source (non-zero for scripts embedded
// in a host document).
func NewMapper(sm SourceMap, scriptStart location.Position) Mapper {
	return &mapper{sm: sm, start: scriptStart}
}

type mapper struct {
	sm    SourceMap
	start location.Position
}

func (m *mapper) Sources() []resource.Identifier { return m.sm.AuthoredSources() }

func (m *mapper) ToScript(source resource.Identifier, pos location.Position) (location.Position, bool) {
	gen, ok := m.sm.GeneratedPositionFor(source, pos)
	if !ok {
		return location.Position{}, false
	}
	if gen.Line == 0 {
		gen.Column += m.start.ColumnOrZero()
	}
	gen.Line += m.start.Line
	return gen, true
}

func (m *mapper) ToSource(pos location.Position) (resource.Identifier, location.Position, bool) {
	rel := location.At(pos.Line-m.start.Line, pos.ColumnOrZero())
	if rel.Line < 0 {
		return resource.Identifier{}, location.Position{}, false
	}
	if rel.Line == 0 {
		rel.Column -= m.start.ColumnOrZero()
		if rel.Column < 0 {
			return resource.Identifier{}, location.Position{}, false
		}
	}
	return m.sm.AuthoredPositionFor(rel)
}
