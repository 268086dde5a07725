package scripts

import (
	"fmt"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// SourceID is the registry handle of a loaded source.
type SourceID int

// Role says which of the three kinds of sources a LoadedSource is.
type Role uint8

const (
	// RoleRuntime is the source the runtime actually loaded, named by the
	// URL it reported.
	RoleRuntime Role = iota
	// RoleDevelopment is the workspace file that corresponds to a
	// runtime source (possibly the same path).
	RoleDevelopment
	// RoleMapped is an authored source referenced by a source map.
	RoleMapped
)

func (r Role) String() string {
	switch r {
	case RoleRuntime:
		return "runtime"
	case RoleDevelopment:
		return "development"
	case RoleMapped:
		return "mapped"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Source is a loaded source. Identity is (Identifier, Role).
type Source struct {
	ID         SourceID
	Identifier resource.Identifier
	Role       Role
	// HasURL is false for runtime sources of scripts the runtime reported
	// without a URL (eval, new Function, ...). Those can only be targeted
	// by script id.
	HasURL bool
}

func (s Source) String() string {
	return fmt.Sprintf("%s(%s)", s.Identifier, s.Role)
}

// SourceLocation is a position within a loaded source.
type SourceLocation = location.Location[SourceID]

type sourceKey struct {
	canonical string
	role      Role
}

type sourceEntry struct {
	src Source
	// scripts associated with this source, in parse order.
	scripts []ScriptID
	// development is set on runtime sources.
	development SourceID
	// mapped is set on development sources.
	mapped []SourceID
	// unreachable is set once every script of the source belongs to a
	// destroyed execution context.
	unreachable bool
}

func (e *sourceEntry) addScript(id ScriptID) {
	for _, s := range e.scripts {
		if s == id {
			return
		}
	}
	e.scripts = append(e.scripts, id)
}

func (e *sourceEntry) addMapped(id SourceID) {
	for _, m := range e.mapped {
		if m == id {
			return
		}
	}
	e.mapped = append(e.mapped, id)
}
