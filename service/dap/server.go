// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows jsdebug to sit between a DAP frontend and a JavaScript
// runtime's remote debugging endpoint. The frontend runs the adapter
// in server mode listening on a port and communicating over TCP, then
// attaches it to a runtime by websocket URL.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/cdp"
	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/pause"
	"github.com/go-delve/jsdebug/pkg/resource"
	"github.com/go-delve/jsdebug/pkg/scripts"
	"github.com/go-delve/jsdebug/service"
	"github.com/go-delve/jsdebug/service/debugger"
)

// Server implements a DAP server that can accept a single client for
// a single debug session. It does not support restarting.
// The server operates via three kinds of goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing commands to the
// underlying debugger and sending back responses.
// (3) The debugger's event bus goroutine, which sends events about
// breakpoints, sources and pauses as they happen.
type Server struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// log is used for structured logging.
	log logflags.Logger
	// sendingMu synchronizes writing to the connection.
	sendingMu sync.Mutex

	// mu guards the fields below, which are shared with the event
	// goroutine.
	mu sync.Mutex
	// debugger is the underlying debugger service.
	debugger *debugger.Debugger
	// unsubscribe stops event forwarding.
	unsubscribe []func()
	// stackFrameHandles maps frames of the current pause to unique ids.
	stackFrameHandles *frameHandlesMap
	// args tracks special settings for handling debug session requests.
	args attachArgs
	// linesStartAt1 and columnsStartAt1 are the client's conventions.
	linesStartAt1, columnsStartAt1 bool
}

// attachArgs captures arguments from the attach request that
// impact handling of subsequent requests.
type attachArgs struct {
	// stackTraceDepth is the maximum length of the returned list of stack frames.
	stackTraceDepth    int      `cfgName:"stackTraceDepth"`
	// hideUnmappedFrames drops frames of scripts without a loaded source
	// from stack traces.
	hideUnmappedFrames bool     `cfgName:"hideUnmappedFrames"`
	// substitutePath lists the attach rules as "local -> runtime".
	substitutePath     []string `cfgName:"substitutePath"`
}

var defaultArgs = attachArgs{
	stackTraceDepth: 50,
}

// threadID is the id of the only thread a JavaScript runtime has.
const threadID = 1

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	if config.Dial == nil {
		config.Dial = dialRuntime
	}
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		log:               logger,
		stackFrameHandles: newFrameHandlesMap(),
		args:              defaultArgs,
		linesStartAt1:     true,
		columnsStartAt1:   true,
	}
}

func dialRuntime(ctx context.Context, address string) (debugger.Target, error) {
	conn, err := cdp.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return cdp.NewTarget(conn), nil
}

// Stop stops the DAP debugger service, closes the listener and the client
// connection. It detaches the underlying debugger from the runtime.
// This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	s.detach()
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. Since the server currently services only one
// client, this can be used as a signal to the entire server via
// Stop(). The function safeguards against closing the channel more
// than once and can be called multiple times.
func (s *Server) signalDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The server should be restarted for every new debug session.
// The debugger won't be started until the attach request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				if decodeErr, ok := err.(*dap.DecodeProtocolMessageFieldError); ok {
					// Send an error response to the users if we were unable to process the message.
					s.sendInternalErrorResponse(decodeErr.Seq, err.Error())
					return
				}
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	if _, ok := request.(dap.RequestMessage); !ok {
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process non-request %#v\n", request))
		return
	}

	switch request := request.(type) {
	case *dap.InitializeRequest:
		// Required
		s.onInitializeRequest(request)
	case *dap.AttachRequest:
		// Required
		s.onAttachRequest(request)
	case *dap.DisconnectRequest:
		// Required
		s.onDisconnectRequest(request)
	case *dap.SetBreakpointsRequest:
		// Required
		s.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		// Optional (capability ‘exceptionBreakpointFilters’)
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		// Optional (capability ‘supportsConfigurationDoneRequest’)
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		// Required
		s.onContinueRequest(request)
	case *dap.PauseRequest:
		// Required
		s.onPauseRequest(request)
	case *dap.ThreadsRequest:
		// Required
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		// Required
		s.onStackTraceRequest(request)
	case *dap.LoadedSourcesRequest:
		// Optional (capability ‘supportsLoadedSourcesRequest’)
		s.onLoadedSourcesRequest(request)
	case *dap.LaunchRequest:
		// Launching is left to the runtime's own tooling.
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.EvaluateRequest:
		// Required
		s.onEvaluateRequest(request)
	case *dap.NextRequest, *dap.StepInRequest, *dap.StepOutRequest,
		*dap.ScopesRequest, *dap.VariablesRequest:
		s.sendNotYetImplementedErrorResponse(request.(dap.RequestMessage).GetRequest())
	default:
		s.sendUnsupportedErrorResponse(*request.(dap.RequestMessage).GetRequest())
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	s.sendingMu.Lock()
	defer s.sendingMu.Unlock()
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Debug(err)
	}
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	s.mu.Lock()
	s.linesStartAt1 = request.Arguments.LinesStartAt1
	s.columnsStartAt1 = request.Arguments.ColumnsStartAt1
	s.mu.Unlock()

	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsHitConditionalBreakpoints = true
	response.Body.SupportsLogPoints = true
	response.Body.SupportsLoadedSourcesRequest = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: "all", Label: "Caught Exceptions"},
		{Filter: "uncaught", Label: "Uncaught Exceptions"},
	}
	s.send(response)
}

func (s *Server) onAttachRequest(request *dap.AttachRequest) {
	s.mu.Lock()
	attached := s.debugger != nil
	s.mu.Unlock()
	if attached {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach",
			"debug session already in progress")
		return
	}

	var args AttachConfig
	if err := unmarshalAttachArgs(request.Arguments, &args); err != nil {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", err.Error())
		return
	}
	if args.Address == "" {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach",
			"The 'address' attribute is missing in debug configuration.")
		return
	}

	cfg := s.config.Debugger
	if args.BreakOnLoadStrategy != "" {
		strategy, err := breakpoints.ParseStrategy(args.BreakOnLoadStrategy)
		if err != nil {
			s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", err.Error())
			return
		}
		cfg.BreakOnLoad = strategy
	}
	if args.RuntimeVersion != "" {
		cfg.RuntimeVersion = args.RuntimeVersion
	}
	if len(args.SubstitutePath) > 0 {
		// Attach rules are written client to runtime; the registry maps
		// runtime identifiers to client paths.
		rules := make(resource.Rules, 0, len(args.SubstitutePath)+len(cfg.SubstitutePath))
		for _, sp := range args.SubstitutePath {
			rules = append(rules, resource.Rule{From: sp.To, To: sp.From})
		}
		cfg.SubstitutePath = append(rules, cfg.SubstitutePath...)
	}
	s.mu.Lock()
	if args.StackTraceDepth > 0 {
		s.args.stackTraceDepth = args.StackTraceDepth
	}
	s.args.substitutePath = nil
	for _, sp := range args.SubstitutePath {
		s.args.substitutePath = append(s.args.substitutePath, sp.From+" -> "+sp.To)
	}
	s.mu.Unlock()

	ctx := context.Background()
	target, err := s.config.Dial(ctx, args.Address)
	if err != nil {
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", err.Error())
		return
	}
	d := debugger.New(&cfg, target)
	s.mu.Lock()
	s.debugger = d
	s.unsubscribe = []func(){
		events.Subscribe(d.Events(), s.onStatusChanged),
		events.Subscribe(d.Events(), s.onLoadedSource),
		events.Subscribe(d.Events(), s.onStopped),
		events.Subscribe(d.Events(), s.onContinued),
		events.Subscribe(d.Events(), s.onTerminated),
	}
	s.mu.Unlock()

	if err := d.Attach(ctx); err != nil {
		s.detach()
		s.sendErrorResponse(request.Request, FailedToAttach, "Failed to attach", err.Error())
		return
	}

	// Notify the client that the debugger is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
}

// detach stops event forwarding and detaches the debugger, if any.
func (s *Server) detach() {
	s.mu.Lock()
	d := s.debugger
	unsubscribe := s.unsubscribe
	s.debugger, s.unsubscribe = nil, nil
	s.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}
	if d != nil {
		if err := d.Detach(context.Background()); err != nil {
			s.log.Debug("detaching: ", err)
		}
	}
}

func (s *Server) session() *debugger.Debugger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugger
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects the debuggee and signals that the debug adaptor
// (in our case this TCP server) can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.detach()
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	d := s.session()
	if d == nil {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "debugger is not attached")
		return
	}
	path := request.Arguments.Source.Path
	if path == "" {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "empty file path")
		return
	}

	recipes := make([]breakpoints.Recipe, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		recipes[i] = breakpoints.Recipe{Position: s.toPosition(b.Line, b.Column), Action: toAction(b)}
	}
	statuses := d.UpdateBreakpoints(context.Background(), path, recipes)

	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(statuses))
	for i, st := range statuses {
		response.Body.Breakpoints[i] = s.convertStatus(d, st)
	}
	s.send(response)
}

// toAction picks the action of a client breakpoint. A log message wins
// over a hit condition, which wins over a condition.
func toAction(b dap.SourceBreakpoint) breakpoints.Action {
	switch {
	case b.LogMessage != "":
		return breakpoints.Log(b.LogMessage)
	case b.HitCondition != "":
		return breakpoints.HitCount(b.HitCondition)
	case b.Condition != "":
		return breakpoints.Condition(b.Condition)
	}
	return breakpoints.Break()
}

func (s *Server) toPosition(line, column int) location.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linesStartAt1 {
		line--
	}
	if column <= 0 {
		return location.At(line, 0)
	}
	if s.columnsStartAt1 {
		column--
	}
	return location.At(line, column)
}

func (s *Server) fromPosition(p location.Position) (line, column int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, column = p.Line, p.ColumnOrZero()
	if s.linesStartAt1 {
		line++
	}
	if s.columnsStartAt1 {
		column++
	}
	return line, column
}

// convertStatus reports a recipe status as a DAP breakpoint. Bound
// breakpoints are reported where they actually bound when that location
// maps back into the requested source.
func (s *Server) convertStatus(d *debugger.Debugger, st breakpoints.Status) dap.Breakpoint {
	pos := st.Recipe.Position
	if st.Kind == breakpoints.Bound && len(st.Breakpoints) > 0 {
		reg := d.Scripts()
		if loc, ok := reg.MapToSource(st.Breakpoints[0].ScriptLocation()); ok {
			if src, ok := reg.Source(loc.Resource); ok && src.Identifier.Equal(st.Recipe.Source) {
				pos = loc.Position
			}
		}
	}
	line, column := s.fromPosition(pos)
	bp := dap.Breakpoint{
		Id:       int(st.Recipe.ID),
		Verified: st.Verified(),
		Source:   &dap.Source{Name: st.Recipe.Source.Base(), Path: st.Recipe.Source.String()},
		Line:     line,
		Column:   column,
	}
	if !bp.Verified {
		bp.Message = st.Message
	}
	return bp
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	d := s.session()
	if d != nil {
		if err := d.SetExceptionBreakpoints(context.Background(), request.Arguments.Filters); err != nil {
			s.sendErrorResponse(request.Request, UnableToSetExceptions, "Unable to set exception breakpoints", err.Error())
			return
		}
	}
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if d := s.session(); d != nil {
		if err := d.Start(context.Background()); err != nil {
			s.sendErrorResponse(request.Request, UnableToStart, "Unable to start the runtime", err.Error())
			return
		}
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	d := s.session()
	if d == nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", "debugger is not attached")
		return
	}
	s.clearPauseStateHandles()
	if err := d.Resume(context.Background()); err != nil {
		s.sendErrorResponse(request.Request, UnableToContinue, "Unable to continue", err.Error())
		return
	}
	s.send(&dap.ContinueResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
	})
}

func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	d := s.session()
	if d == nil {
		s.sendErrorResponse(request.Request, UnableToHalt, "Unable to halt execution", "debugger is not attached")
		return
	}
	if err := d.Pause(context.Background()); err != nil {
		s.sendErrorResponse(request.Request, UnableToHalt, "Unable to halt execution", err.Error())
		return
	}
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	if s.session() == nil {
		s.sendErrorResponse(request.Request, UnableToDisplayThreads, "Unable to display threads", "debugger is not attached")
		return
	}
	// The DAP spec states that "even if a debug adapter does not support
	// multiple threads, it must implement the threads request and return
	// a single (dummy) thread".
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: threadID, Name: "main"}}},
	}
	s.send(response)
}

// onStackTraceRequest handles ‘stackTrace’ requests.
// This is a mandatory request to support.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	d := s.session()
	if d == nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", "debugger is not attached")
		return
	}
	frames, err := d.CallFrames()
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", err.Error())
		return
	}
	s.mu.Lock()
	depth, hide := s.args.stackTraceDepth, s.args.hideUnmappedFrames
	s.mu.Unlock()
	if hide {
		mapped := frames[:0]
		for _, f := range frames {
			if f.Mapped {
				mapped = append(mapped, f)
			}
		}
		frames = mapped
	}
	if len(frames) > depth {
		frames = frames[:depth]
	}

	stackFrames := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		s.mu.Lock()
		id := s.stackFrameHandles.create(f.Index)
		s.mu.Unlock()
		line, column := s.fromPosition(f.Position)
		stackFrames[i] = dap.StackFrame{Id: id, Name: f.Name, Line: line, Column: column}
		if stackFrames[i].Name == "" {
			stackFrames[i].Name = "<anonymous>"
		}
		if f.Mapped {
			stackFrames[i].Source = convertSource(f.Source)
		} else {
			stackFrames[i].PresentationHint = "subtle"
		}
	}
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[min(request.Arguments.StartFrame, len(stackFrames)):]
	}
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:min(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: len(frames)},
	}
	s.send(response)
}

// onEvaluateRequest handles 'evaluate' requests. Only adapter commands
// typed in the debug console are supported.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	showErrorToUser := request.Arguments.Context != "watch" && request.Arguments.Context != "hover"
	expr := request.Arguments.Expression
	if request.Arguments.Context != "repl" || !strings.HasPrefix(expr, replPrefix) {
		s.sendNotYetImplementedErrorResponse(&request.Request)
		return
	}
	res, err := s.adapterCmd(strings.TrimPrefix(expr, replPrefix))
	if err != nil {
		s.sendErrorResponseWithOpts(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error(), showErrorToUser)
		return
	}
	response := &dap.EvaluateResponse{Response: *newResponse(request.Request)}
	response.Body = dap.EvaluateResponseBody{Result: strings.TrimRight(res, "\n")}
	s.send(response)
}

func (s *Server) onLoadedSourcesRequest(request *dap.LoadedSourcesRequest) {
	response := &dap.LoadedSourcesResponse{Response: *newResponse(request.Request)}
	response.Body.Sources = []dap.Source{}
	if d := s.session(); d != nil {
		for _, src := range d.LoadedSources() {
			response.Body.Sources = append(response.Body.Sources, *convertSource(src))
		}
	}
	s.send(response)
}

func convertSource(src scripts.Source) *dap.Source {
	out := &dap.Source{Name: src.Identifier.Base(), Path: src.Identifier.String()}
	if src.Role == scripts.RoleRuntime && !src.HasURL {
		out.Origin = "eval"
	}
	return out
}

// onStatusChanged forwards breakpoint status changes that happen outside
// of setBreakpoints requests, e.g. when a script loads.
func (s *Server) onStatusChanged(ev breakpoints.StatusChanged) {
	if ev.Reason != breakpoints.StatusUpdated {
		return
	}
	d := s.session()
	// The client only knows recipes that are still registered.
	if d == nil || !d.Breakpoints().Status().IsRegistered(ev.Status.Recipe.ID) {
		return
	}
	s.send(&dap.BreakpointEvent{
		Event: *newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "changed", Breakpoint: s.convertStatus(d, ev.Status)},
	})
}

func (s *Server) onLoadedSource(ev debugger.LoadedSource) {
	s.send(&dap.LoadedSourceEvent{
		Event: *newEvent("loadedSource"),
		Body:  dap.LoadedSourceEventBody{Reason: string(ev.Reason), Source: *convertSource(ev.Source)},
	})
}

func (s *Server) onStopped(ev debugger.Stopped) {
	s.clearPauseStateHandles()
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.Reason = stopReason(ev.Reason)
	e.Body.ThreadId = threadID
	e.Body.AllThreadsStopped = true
	if ev.Reason == pause.Abstained {
		e.Body.Description = fmt.Sprintf("Paused (%s)", ev.RuntimeReason)
	}
	s.send(e)
}

func stopReason(v pause.Vote) string {
	switch v {
	case pause.PauseAtBreakpoint:
		return "breakpoint"
	case pause.PauseOnException:
		return "exception"
	case pause.PauseOnDebuggerStatement:
		return "debugger statement"
	}
	return "pause"
}

func (s *Server) onContinued(debugger.Continued) {
	s.clearPauseStateHandles()
	s.send(&dap.ContinuedEvent{
		Event: *newEvent("continued"),
		Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
	})
}

func (s *Server) onTerminated(debugger.Terminated) {
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (s *Server) clearPauseStateHandles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stackFrameHandles.reset()
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	s.sendErrorResponseWithOpts(request, id, summary, details, false)
}

func (s *Server) sendErrorResponseWithOpts(request dap.Request, id int, summary, details string, showUser bool) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{Id: id, Format: fmt.Sprintf("%s: %s", summary, details), ShowUser: showUser}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error = &dap.ErrorMessage{Id: InternalError, Format: fmt.Sprintf("%s: %s", er.Message, details)}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func (s *Server) sendNotYetImplementedErrorResponse(request *dap.Request) {
	s.sendErrorResponse(*request, NotYetImplemented, "Not yet implemented",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}
