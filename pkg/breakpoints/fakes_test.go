package breakpoints

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
	"github.com/go-delve/jsdebug/pkg/sourcemap"
)

var parser = resource.Parser{}

// tableMap is a source map with one authored source and an explicit
// position table.
type tableMap struct {
	authored resource.Identifier
	toGen    map[location.Position]location.Position
}

func (m tableMap) AuthoredSources() []resource.Identifier { return []resource.Identifier{m.authored} }

func (m tableMap) AuthoredPositionFor(pos location.Position) (resource.Identifier, location.Position, bool) {
	for a, g := range m.toGen {
		if g == pos {
			return m.authored, a, true
		}
	}
	return resource.Identifier{}, location.Position{}, false
}

func (m tableMap) GeneratedPositionFor(src resource.Identifier, pos location.Position) (location.Position, bool) {
	if !src.Equal(m.authored) {
		return location.Position{}, false
	}
	g, ok := m.toGen[pos]
	return g, ok
}

type mapProvider map[string]sourcemap.SourceMap

func (p mapProvider) SourceMapFor(ctx context.Context, script resource.Identifier, url string) (sourcemap.SourceMap, error) {
	return p[url], nil
}

var errRejected = errors.New("breakpoint rejected")

// fakeSetter installs breakpoints in an imaginary runtime. Breakpoints
// by URL regexp bind in every known script whose URL matches.
type fakeSetter struct {
	mu       sync.Mutex
	next     int
	urls     map[scripts.ScriptID]string
	failIn   map[scripts.ScriptID]bool
	possible map[scripts.ScriptID][]location.Position
	active   map[DebuggeeID]string
	calls    []string

	// beforeRegexp, if set, runs at the start of every
	// SetBreakpointByURLRegexp call, without holding mu.
	beforeRegexp func(r InURLRegexp)
}

func newFakeSetter() *fakeSetter {
	return &fakeSetter{
		urls:     make(map[scripts.ScriptID]string),
		failIn:   make(map[scripts.ScriptID]bool),
		possible: make(map[scripts.ScriptID][]location.Position),
		active:   make(map[DebuggeeID]string),
	}
}

func (s *fakeSetter) newID(desc string) DebuggeeID {
	s.next++
	id := DebuggeeID(fmt.Sprintf("bp%d", s.next))
	s.active[id] = desc
	return id
}

func (s *fakeSetter) SetBreakpoint(ctx context.Context, r InScript) (DebuggeeID, scripts.ScriptLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("set %s:%s", r.Script, r.Position))
	if s.failIn[r.Script] {
		return "", scripts.ScriptLocation{}, errRejected
	}
	return s.newID(string(r.Script)), location.New(r.Script, r.Position), nil
}

func (s *fakeSetter) SetBreakpointByURLRegexp(ctx context.Context, r InURLRegexp) (DebuggeeID, []scripts.ScriptLocation, error) {
	if s.beforeRegexp != nil {
		s.beforeRegexp(r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("setRegexp %s", r.Position))
	re, err := regexp.Compile(r.Regexp)
	if err != nil {
		return "", nil, err
	}
	var ids []string
	for id, url := range s.urls {
		if re.MatchString(url) {
			if s.failIn[id] {
				return "", nil, errRejected
			}
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)
	var locs []scripts.ScriptLocation
	for _, id := range ids {
		locs = append(locs, location.New(scripts.ScriptID(id), r.Position))
	}
	return s.newID(r.Regexp), locs, nil
}

func (s *fakeSetter) RemoveBreakpoint(ctx context.Context, id DebuggeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("remove %s", id))
	if _, ok := s.active[id]; !ok {
		return fmt.Errorf("no breakpoint %s", id)
	}
	delete(s.active, id)
	return nil
}

func (s *fakeSetter) PossibleBreakpoints(ctx context.Context, script scripts.ScriptID, r location.Range) ([]location.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []location.Position
	for _, p := range s.possible[script] {
		if r.Contains(p) && p.IsBefore(r.End) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeSetter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c[:3] == "set" || c[:6] == "remove" {
			n++
		}
	}
	return n
}

func (s *fakeSetter) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSetter) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *fakeSetter) activeIDs() []DebuggeeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DebuggeeID
	for id := range s.active {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *fakeSetter) countCalls(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeInstrumentation struct {
	mu    sync.Mutex
	on    bool
	calls int
}

func (f *fakeInstrumentation) SetInstrumentationBreakpoint(ctx context.Context, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on, f.calls = true, f.calls+1
	return nil
}

func (f *fakeInstrumentation) RemoveInstrumentationBreakpoint(ctx context.Context, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on, f.calls = false, f.calls+1
	return nil
}

func (f *fakeInstrumentation) enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

type fixture struct {
	t      *testing.T
	bus    *events.Bus
	reg    *scripts.Registry
	setter *fakeSetter
	instr  *fakeInstrumentation
	m      *Manager

	mu      sync.Mutex
	changes []StatusChanged
}

func newFixture(t *testing.T, strategy Strategy, maps mapProvider) *fixture {
	f := &fixture{
		t:      t,
		bus:    events.NewBus(),
		setter: newFakeSetter(),
		instr:  &fakeInstrumentation{},
	}
	f.reg = scripts.New(scripts.Config{Parser: parser, SourceMaps: maps})
	f.m = New(Config{
		Scripts:           f.reg,
		Setter:            f.setter,
		Instrumentation:   f.instr,
		Bus:               f.bus,
		Strategy:          strategy,
		ColumnBreakpoints: true,
	})
	events.Subscribe(f.bus, func(ev StatusChanged) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changes = append(f.changes, ev)
	})
	t.Cleanup(func() {
		f.m.Wait()
		f.bus.Close()
	})
	return f
}

// parse reports a parsed script without waiting for its breakpoints to
// be set.
func (f *fixture) parse(id scripts.ScriptID, url string, ctx scripts.ExecutionContextID, mapURL string) (*scripts.Script, <-chan struct{}) {
	f.t.Helper()
	f.setter.mu.Lock()
	f.setter.urls[id] = url
	f.setter.mu.Unlock()
	s, _, err := f.reg.AddScript(context.Background(), scripts.ScriptParsed{
		ID: id, URL: url, Context: ctx, SourceMapURL: mapURL,
		End: location.At(1000, 0),
	})
	require.NoError(f.t, err)
	return s, f.m.ScriptParsed(context.Background(), s)
}

// load parses a script and waits for its breakpoints to be set.
func (f *fixture) load(id scripts.ScriptID, url string, ctx scripts.ExecutionContextID, mapURL string) *scripts.Script {
	f.t.Helper()
	s, done := f.parse(id, url, ctx, mapURL)
	f.wait(done)
	return s
}

func (f *fixture) wait(done <-chan struct{}) {
	f.t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		f.t.Fatal("reconciliation did not finish")
	}
}

func (f *fixture) update(path string, recipes ...Recipe) []Status {
	return f.m.Update(context.Background(), parser.Parse(path), recipes)
}

func (f *fixture) status(path string, r Recipe) Status {
	f.t.Helper()
	r.Source = parser.Parse(path)
	cr, ok := f.m.Status().Lookup(r)
	require.True(f.t, ok, "recipe %s not registered", r)
	st, _ := f.m.Status().Status(cr.ID)
	return st
}

func (f *fixture) events() []StatusChanged {
	f.bus.Flush()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusChanged(nil), f.changes...)
}

func at(line, col int) Recipe {
	return Recipe{Position: location.At(line, col), Action: Break()}
}
