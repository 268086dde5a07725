package breakpoints

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

// InScript is a debuggee breakpoint request targeting one script.
type InScript struct {
	Script    scripts.ScriptID
	Position  location.Position
	Condition string
}

// InURLRegexp is a debuggee breakpoint request targeting every script,
// loaded now or later, whose URL matches Regexp.
type InURLRegexp struct {
	Regexp    string
	Position  location.Position
	Condition string
}

// DebuggeeBreakpointSetter is the only component that installs and
// removes breakpoints in the runtime.
type DebuggeeBreakpointSetter interface {
	SetBreakpoint(ctx context.Context, r InScript) (DebuggeeID, scripts.ScriptLocation, error)
	// SetBreakpointByURLRegexp returns the locations the breakpoint bound
	// at in scripts already loaded. Later binds are reported through
	// Manager.BreakpointResolved.
	SetBreakpointByURLRegexp(ctx context.Context, r InURLRegexp) (DebuggeeID, []scripts.ScriptLocation, error)
	RemoveBreakpoint(ctx context.Context, id DebuggeeID) error
	// PossibleBreakpoints returns the breakable positions of script
	// within r, earliest first.
	PossibleBreakpoints(ctx context.Context, script scripts.ScriptID, r location.Range) ([]location.Position, error)
}

// BeforeScriptExecution is the instrumentation event that pauses before
// every script runs.
const BeforeScriptExecution = "beforeScriptExecution"

// InstrumentationBreakpointsSetter toggles runtime instrumentation
// breakpoints.
type InstrumentationBreakpointsSetter interface {
	SetInstrumentationBreakpoint(ctx context.Context, event string) error
	RemoveInstrumentationBreakpoint(ctx context.Context, event string) error
}

// URLRegexp returns a regular expression matching exactly url. The
// alternative holding a fresh uuid never matches anything but makes each
// returned expression unique, so a new breakpoint at the same place can
// be installed before the old one is removed.
func URLRegexp(url string, caseInsensitive bool) string {
	return "(?:^" + quote(url, caseInsensitive) + "$)|(?:^" + uuid.NewString() + "$)"
}

// quote escapes s for a regexp, spelling letters as [aA] if
// caseInsensitive is set. Runtimes reject regexp flags in URL regexps.
func quote(s string, caseInsensitive bool) string {
	q := regexp.QuoteMeta(s)
	if !caseInsensitive {
		return q
	}
	var sb strings.Builder
	for _, r := range q {
		lo, up := unicode.ToLower(r), unicode.ToUpper(r)
		if lo == up {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('[')
		sb.WriteRune(lo)
		sb.WriteRune(up)
		sb.WriteByte(']')
	}
	return sb.String()
}
