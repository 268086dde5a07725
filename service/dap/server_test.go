package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"

	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/cdp"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
	"github.com/go-delve/jsdebug/service"
	"github.com/go-delve/jsdebug/service/dap/daptest"
	"github.com/go-delve/jsdebug/service/debugger"
)

func TestMain(m *testing.M) {
	if os.Getenv("JSDBG_TEST_LOG") != "" {
		logflags.Setup(true, "dap,debugger", "")
	}
	os.Exit(m.Run())
}

// fakeRuntime stands in for the runtime's debugging endpoint. Its
// notifications are emitted by the test.
type fakeRuntime struct {
	mu         sync.Mutex
	handler    func(cdp.Event)
	urls       map[scripts.ScriptID]string
	next       int
	resumes    int
	pauses     int
	started    bool
	exceptions string
	done       chan struct{}
	closeOnce  sync.Once
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{urls: make(map[scripts.ScriptID]string), done: make(chan struct{})}
}

func (r *fakeRuntime) OnEvent(fn func(cdp.Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.handler = nil
	}
}

func (r *fakeRuntime) emit(method string, params interface{}) {
	data, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()
	if fn != nil {
		fn(cdp.Event{Method: method, Params: data})
	}
}

func (r *fakeRuntime) load(id scripts.ScriptID, url string) {
	r.mu.Lock()
	r.urls[id] = url
	r.mu.Unlock()
	r.emit(cdp.EventScriptParsed, map[string]interface{}{
		"scriptId": id, "url": url, "startLine": 0, "startColumn": 0,
		"endLine": 100, "endColumn": 0, "executionContextId": 1,
	})
}

func (r *fakeRuntime) paused(reason string, script scripts.ScriptID, line int, hits ...string) {
	if hits == nil {
		hits = []string{}
	}
	r.emit(cdp.EventPaused, map[string]interface{}{
		"reason":         reason,
		"hitBreakpoints": hits,
		"callFrames": []interface{}{
			map[string]interface{}{
				"callFrameId":  "0",
				"functionName": "handler",
				"location":     map[string]interface{}{"scriptId": script, "lineNumber": line, "columnNumber": 4},
				"url":          "",
				"scopeChain":   []interface{}{},
				"this":         map[string]interface{}{"type": "undefined"},
			},
			map[string]interface{}{
				"callFrameId":  "1",
				"functionName": "",
				"location":     map[string]interface{}{"scriptId": "999", "lineNumber": 0, "columnNumber": 0},
				"url":          "",
				"scopeChain":   []interface{}{},
				"this":         map[string]interface{}{"type": "undefined"},
			},
		},
	})
}

func (r *fakeRuntime) lastBreakpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("bp%d", r.next)
}

func (r *fakeRuntime) Done() <-chan struct{} { return r.done }

func (r *fakeRuntime) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

func (r *fakeRuntime) Enable(ctx context.Context) error { return nil }

func (r *fakeRuntime) RunIfWaitingForDebugger(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *fakeRuntime) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes++
	return nil
}

func (r *fakeRuntime) Pause(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses++
	return nil
}

func (r *fakeRuntime) SetPauseOnExceptions(ctx context.Context, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions = state
	return nil
}

func (r *fakeRuntime) RuntimeVersion(ctx context.Context) (string, error) { return "v20.5.1", nil }

func (r *fakeRuntime) SetBreakpoint(ctx context.Context, in breakpoints.InScript) (breakpoints.DebuggeeID, scripts.ScriptLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	return breakpoints.DebuggeeID(fmt.Sprintf("bp%d", r.next)), location.New(in.Script, in.Position), nil
}

func (r *fakeRuntime) SetBreakpointByURLRegexp(ctx context.Context, in breakpoints.InURLRegexp) (breakpoints.DebuggeeID, []scripts.ScriptLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	re := regexp.MustCompile(in.Regexp)
	var locs []scripts.ScriptLocation
	for id, url := range r.urls {
		if re.MatchString(url) {
			locs = append(locs, location.New(id, in.Position))
		}
	}
	r.next++
	return breakpoints.DebuggeeID(fmt.Sprintf("bp%d", r.next)), locs, nil
}

func (r *fakeRuntime) RemoveBreakpoint(ctx context.Context, id breakpoints.DebuggeeID) error {
	return nil
}

func (r *fakeRuntime) PossibleBreakpoints(ctx context.Context, script scripts.ScriptID, rng location.Range) ([]location.Position, error) {
	return nil, nil
}

func (r *fakeRuntime) SetInstrumentationBreakpoint(ctx context.Context, event string) error {
	return nil
}

func (r *fakeRuntime) RemoveInstrumentationBreakpoint(ctx context.Context, event string) error {
	return nil
}

// startDAPServer starts a server attached to nothing. Attach requests
// connect it to runtime.
func startDAPServer(t *testing.T, runtime *fakeRuntime) (server *Server, forceStop chan struct{}) {
	// Start the DAP server.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server = NewServer(&service.Config{
		Listener: listener,
		Debugger: debugger.Config{Parser: resource.Parser{}},
		Dial: func(ctx context.Context, address string) (debugger.Target, error) {
			if address != "ws://127.0.0.1:9229/fake" {
				return nil, fmt.Errorf("cannot dial %s", address)
			}
			return runtime, nil
		},
		DisconnectChan: disconnectChan,
	})
	server.Run()
	// Give server time to start listening for clients
	time.Sleep(100 * time.Millisecond)

	// Run a goroutine that stops the server when disconnectChan is signaled.
	// This helps us test that certain events cause the server to stop as
	// expected.
	forceStop = make(chan struct{})
	go func() {
		select {
		case <-disconnectChan:
		case <-forceStop:
		}
		server.Stop()
	}()
	return server, forceStop
}

// runTest starts a server and a client connected to it and runs test.
func runTest(t *testing.T, test func(c *daptest.Client, runtime *fakeRuntime)) {
	runtime := newFakeRuntime()
	server, forceStop := startDAPServer(t, runtime)
	client := daptest.NewClient(t, server.listener.Addr().String())
	defer client.Close()
	defer close(forceStop)
	test(client, runtime)
}

func attach(t *testing.T, client *daptest.Client, args map[string]interface{}) {
	t.Helper()
	client.InitializeRequest()
	client.ExpectInitializeResponse(t)
	if args == nil {
		args = map[string]interface{}{}
	}
	args["address"] = "ws://127.0.0.1:9229/fake"
	if _, ok := args["breakOnLoadStrategy"]; !ok {
		args["breakOnLoadStrategy"] = "off"
	}
	client.AttachRequest(args)
	client.ExpectInitializedEvent(t)
	client.ExpectAttachResponse(t)
}

// readMessages reads n messages, which may arrive in any order.
func readMessages(t *testing.T, client *daptest.Client, n int) []dap.Message {
	t.Helper()
	msgs := make([]dap.Message, n)
	for i := range msgs {
		msgs[i] = client.ReadMessage(t)
	}
	return msgs
}

func find[M dap.Message](t *testing.T, msgs []dap.Message) M {
	t.Helper()
	for _, m := range msgs {
		if r, ok := m.(M); ok {
			return r
		}
	}
	var want M
	t.Fatalf("no %T in %#v", want, msgs)
	return want
}

func TestInitializeCapabilities(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		client.InitializeRequest()
		resp := client.ExpectInitializeResponse(t)
		if resp.Seq != 0 || resp.RequestSeq != 1 {
			t.Errorf("got %#v, want Seq=0, RequestSeq=1", resp)
		}
		if !resp.Body.SupportsConditionalBreakpoints || !resp.Body.SupportsHitConditionalBreakpoints ||
			!resp.Body.SupportsLogPoints || !resp.Body.SupportsLoadedSourcesRequest {
			t.Errorf("missing capabilities in %#v", resp.Body)
		}
		if len(resp.Body.ExceptionBreakpointFilters) != 2 {
			t.Errorf("got %#v, want filters all and uncaught", resp.Body.ExceptionBreakpointFilters)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestAttachErrors(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)

		for _, tc := range []struct {
			args map[string]interface{}
			want string
		}{
			{map[string]interface{}{}, "The 'address' attribute is missing"},
			{map[string]interface{}{"address": 3}, `cannot unmarshal number into "address" of type string`},
			{map[string]interface{}{"address": "ws://127.0.0.1:1/none"}, "cannot dial"},
			{map[string]interface{}{"address": "ws://127.0.0.1:9229/fake", "breakOnLoadStrategy": "sometimes"}, "unknown break on load strategy"},
			{map[string]interface{}{"address": "ws://127.0.0.1:9229/fake", "substitutePath": []interface{}{map[string]string{"from": "/a"}}}, "requires both 'from' and 'to'"},
		} {
			client.AttachRequest(tc.args)
			er := client.ExpectErrorResponse(t)
			if er.Command != "attach" || er.Body.Error == nil || er.Body.Error.Id != FailedToAttach {
				t.Errorf("got %#v, want attach error", er)
				continue
			}
			if !strings.Contains(er.Body.Error.Format, tc.want) {
				t.Errorf("got %q, want it to contain %q", er.Body.Error.Format, tc.want)
			}
		}

		client.SetBreakpointsRequest("/home/me/app/main.js", []int{3})
		er := client.ExpectErrorResponse(t)
		if er.Body.Error.Id != UnableToSetBreakpoints {
			t.Errorf("got %#v, want UnableToSetBreakpoints", er)
		}
	})
}

func TestBreakpointInScriptLoadedLater(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, map[string]interface{}{
			"substitutePath": []interface{}{map[string]string{"from": "/home/me/app", "to": "/app"}},
		})

		client.SetBreakpointsRequest("/home/me/app/main.js", []int{3})
		resp := client.ExpectSetBreakpointsResponse(t)
		if len(resp.Body.Breakpoints) != 1 {
			t.Fatalf("got %#v, want one breakpoint", resp.Body.Breakpoints)
		}
		bp := resp.Body.Breakpoints[0]
		if bp.Verified || bp.Line != 3 || bp.Source == nil || bp.Source.Path != "/home/me/app/main.js" {
			t.Errorf("got %#v, want pending breakpoint at main.js:3", bp)
		}
		if bp.Message == "" {
			t.Errorf("pending breakpoint has no message")
		}

		client.ConfigurationDoneRequest()
		client.ExpectConfigurationDoneResponse(t)
		runtime.mu.Lock()
		started := runtime.started
		runtime.mu.Unlock()
		if !started {
			t.Errorf("runtime was not started by configurationDone")
		}

		runtime.load("42", "/app/main.js")
		msgs := readMessages(t, client, 2)
		loaded := find[*dap.LoadedSourceEvent](t, msgs)
		if loaded.Body.Reason != "new" || loaded.Body.Source.Path != "/home/me/app/main.js" {
			t.Errorf("got %#v, want new source /home/me/app/main.js", loaded.Body)
		}
		changed := find[*dap.BreakpointEvent](t, msgs)
		if changed.Body.Reason != "changed" || !changed.Body.Breakpoint.Verified ||
			changed.Body.Breakpoint.Id != bp.Id || changed.Body.Breakpoint.Line != 3 {
			t.Errorf("got %#v, want breakpoint %d verified at line 3", changed.Body, bp.Id)
		}

		runtime.paused("other", "42", 2, runtime.lastBreakpoint())
		stopped := client.ExpectStoppedEvent(t)
		if stopped.Body.Reason != "breakpoint" || stopped.Body.ThreadId != threadID || !stopped.Body.AllThreadsStopped {
			t.Errorf("got %#v, want breakpoint stop", stopped.Body)
		}

		client.ThreadsRequest()
		threads := client.ExpectThreadsResponse(t)
		if len(threads.Body.Threads) != 1 || threads.Body.Threads[0].Id != threadID {
			t.Errorf("got %#v, want a single thread", threads.Body.Threads)
		}

		client.StackTraceRequest(threadID, 0, 0)
		st := client.ExpectStackTraceResponse(t)
		if st.Body.TotalFrames != 2 || len(st.Body.StackFrames) != 2 {
			t.Fatalf("got %#v, want 2 frames", st.Body)
		}
		top := st.Body.StackFrames[0]
		if top.Name != "handler" || top.Line != 3 || top.Column != 5 || top.Source == nil || top.Source.Path != "/home/me/app/main.js" {
			t.Errorf("got %#v, want handler at main.js:3:5", top)
		}
		if unknown := st.Body.StackFrames[1]; unknown.Source != nil || unknown.PresentationHint != "subtle" || unknown.Name != "<anonymous>" {
			t.Errorf("got %#v, want a subtle anonymous frame", unknown)
		}

		client.StackTraceRequest(threadID, 1, 1)
		st = client.ExpectStackTraceResponse(t)
		if len(st.Body.StackFrames) != 1 || st.Body.StackFrames[0].Name != "<anonymous>" {
			t.Errorf("got %#v, want the second frame only", st.Body.StackFrames)
		}

		client.LoadedSourcesRequest()
		sources := client.ExpectLoadedSourcesResponse(t)
		if len(sources.Body.Sources) != 1 || sources.Body.Sources[0].Path != "/home/me/app/main.js" {
			t.Errorf("got %#v, want main.js", sources.Body.Sources)
		}

		client.ContinueRequest(threadID)
		client.ExpectContinueResponse(t)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
		select {
		case <-runtime.Done():
		case <-time.After(time.Second):
			t.Errorf("runtime connection not closed on disconnect")
		}
	})
}

func TestSetBreakpointsInLoadedScript(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, nil)
		runtime.load("7", "/srv/lib.js")
		client.ExpectLoadedSourceEvent(t)

		client.SetSourceBreakpointsRequest("/srv/lib.js", []dap.SourceBreakpoint{
			{Line: 10},
			{Line: 12, Condition: "x > 1"},
			{Line: 14, HitCondition: ">= 3"},
			{Line: 16, LogMessage: "x is {x}"},
			{Line: 18, HitCondition: "sometimes"},
		})
		// Bindings are reported as they happen, the response may come
		// first or last.
		var resp *dap.SetBreakpointsResponse
		for resp == nil {
			switch m := client.ReadMessage(t).(type) {
			case *dap.SetBreakpointsResponse:
				resp = m
			case *dap.BreakpointEvent:
			default:
				t.Fatalf("unexpected message %#v", m)
			}
		}
		if len(resp.Body.Breakpoints) != 5 {
			t.Fatalf("got %#v, want 5 breakpoints", resp.Body.Breakpoints)
		}
		for i, bp := range resp.Body.Breakpoints[:4] {
			if !bp.Verified || bp.Line != 10+2*i {
				t.Errorf("breakpoint %d: got %#v, want verified at line %d", i, bp, 10+2*i)
			}
		}
		if bad := resp.Body.Breakpoints[4]; bad.Verified || bad.Message == "" {
			t.Errorf("got %#v, want an unverified breakpoint with a message", bad)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestPauseAndExceptions(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, nil)

		client.SetExceptionBreakpointsRequest("uncaught")
		client.ExpectSetExceptionBreakpointsResponse(t)
		runtime.mu.Lock()
		state := runtime.exceptions
		runtime.mu.Unlock()
		if state != "uncaught" {
			t.Errorf("got pause on exceptions %q, want uncaught", state)
		}

		client.SetExceptionBreakpointsRequest("sometimes")
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != UnableToSetExceptions {
			t.Errorf("got %#v, want UnableToSetExceptions", er)
		}

		runtime.load("3", "/srv/app.js")
		client.ExpectLoadedSourceEvent(t)

		client.PauseRequest(threadID)
		client.ExpectPauseResponse(t)
		runtime.paused("other", "3", 1)
		if stopped := client.ExpectStoppedEvent(t); stopped.Body.Reason != "pause" {
			t.Errorf("got %#v, want pause stop", stopped.Body)
		}
		runtime.emit(cdp.EventResumed, map[string]interface{}{})
		client.ExpectContinuedEvent(t)

		runtime.paused("exception", "3", 5)
		if stopped := client.ExpectStoppedEvent(t); stopped.Body.Reason != "exception" {
			t.Errorf("got %#v, want exception stop", stopped.Body)
		}

		client.ContinueRequest(threadID)
		client.ExpectContinueResponse(t)
		client.StackTraceRequest(threadID, 0, 0)
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != UnableToProduceStackTrace {
			t.Errorf("got %#v, want UnableToProduceStackTrace", er)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestSourcesRemovedWithContext(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, nil)
		runtime.load("3", "/srv/app.js")
		client.ExpectLoadedSourceEvent(t)

		runtime.emit(cdp.EventExecutionContextDestroyed, map[string]interface{}{"executionContextId": 1})
		removed := client.ExpectLoadedSourceEvent(t)
		if removed.Body.Reason != "removed" || removed.Body.Source.Path != "/srv/app.js" {
			t.Errorf("got %#v, want /srv/app.js removed", removed.Body)
		}

		client.LoadedSourcesRequest()
		if sources := client.ExpectLoadedSourcesResponse(t); len(sources.Body.Sources) != 0 {
			t.Errorf("got %#v, want no sources", sources.Body.Sources)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestTerminatedWhenRuntimeExits(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, nil)
		runtime.Close()
		client.ExpectTerminatedEvent(t)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestEvaluateAdapterCommands(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		attach(t, client, map[string]interface{}{"stackTraceDepth": 20})
		runtime.load("3", "/srv/app.js")
		client.ExpectLoadedSourceEvent(t)

		client.EvaluateRequest("jsdbg config -list stackTraceDepth", "repl")
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "stackTraceDepth\t20" {
			t.Errorf("got %q, want the configured depth", got)
		}

		client.EvaluateRequest("jsdbg config hideUnmappedFrames true", "repl")
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "hideUnmappedFrames\ttrue\n\nUpdated" {
			t.Errorf("got %q", got)
		}

		client.EvaluateRequest("jsdbg sources app.js", "repl")
		if got := client.ExpectEvaluateResponse(t).Body.Result; got != "/srv/app.js" {
			t.Errorf("got %q, want /srv/app.js", got)
		}

		client.EvaluateRequest("jsdbg help config", "repl")
		if got := client.ExpectEvaluateResponse(t).Body.Result; !strings.HasPrefix(got, "Changes configuration parameters.") {
			t.Errorf("got %q", got)
		}

		client.EvaluateRequest("jsdbg frobnicate", "repl")
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != UnableToEvaluateExpression {
			t.Errorf("got %#v, want UnableToEvaluateExpression", er)
		}

		client.EvaluateRequest("1 + 1", "watch")
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != NotYetImplemented {
			t.Errorf("got %#v, want NotYetImplemented", er)
		}

		runtime.paused("other", "3", 1)
		client.ExpectStoppedEvent(t)
		client.StackTraceRequest(threadID, 0, 0)
		if st := client.ExpectStackTraceResponse(t); len(st.Body.StackFrames) != 1 {
			t.Errorf("got %#v, want the unmapped frame hidden", st.Body.StackFrames)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestUnsupportedRequests(t *testing.T) {
	runTest(t, func(client *daptest.Client, runtime *fakeRuntime) {
		client.LaunchRequest("main.js")
		if er := client.ExpectErrorResponse(t); er.Command != "launch" || er.Body.Error.Id != UnsupportedCommand {
			t.Errorf("got %#v, want unsupported launch", er)
		}

		client.UnknownRequest()
		if er := client.ExpectErrorResponse(t); er.Body.Error.Id != InternalError {
			t.Errorf("got %#v, want an internal error", er)
		}
	})
}
