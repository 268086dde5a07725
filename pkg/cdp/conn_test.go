package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/go-delve/jsdebug/pkg/breakpoints"
	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/scripts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// handler answers one request. A nil result with a non-empty errMsg
// produces an error response.
type handler func(method string, params gjson.Result) (result interface{}, errMsg string)

type fakeRuntime struct {
	t      *testing.T
	srv    *httptest.Server
	handle handler

	mu       sync.Mutex
	ws       *websocket.Conn
	received []string
	ready    chan struct{}
}

func newFakeRuntime(t *testing.T, h handler) *fakeRuntime {
	rt := &fakeRuntime{t: t, handle: h, ready: make(chan struct{})}
	up := websocket.Upgrader{}
	rt.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rt.mu.Lock()
		rt.ws = ws
		rt.mu.Unlock()
		close(rt.ready)
		rt.serve(ws)
	}))
	t.Cleanup(rt.srv.Close)
	return rt
}

func (rt *fakeRuntime) url() string {
	return "ws" + strings.TrimPrefix(rt.srv.URL, "http")
}

func (rt *fakeRuntime) serve(ws *websocket.Conn) {
	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		id := gjson.GetBytes(data, "id").Int()
		method := gjson.GetBytes(data, "method").String()
		rt.mu.Lock()
		rt.received = append(rt.received, method)
		rt.mu.Unlock()
		if rt.handle == nil {
			continue
		}
		result, errMsg := rt.handle(method, gjson.GetBytes(data, "params"))
		msg := map[string]interface{}{"id": id}
		if errMsg != "" {
			msg["error"] = map[string]interface{}{"code": -32000, "message": errMsg}
		} else {
			msg["result"] = result
		}
		rt.send(msg)
	}
}

func (rt *fakeRuntime) send(msg interface{}) {
	<-rt.ready
	rt.mu.Lock()
	defer rt.mu.Unlock()
	require.NoError(rt.t, rt.ws.WriteJSON(msg))
}

func (rt *fakeRuntime) notify(method string, params interface{}) {
	rt.send(map[string]interface{}{"method": method, "params": params})
}

func dial(t *testing.T, rt *fakeRuntime) *Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, rt.url())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCall(t *testing.T) {
	rt := newFakeRuntime(t, func(method string, params gjson.Result) (interface{}, string) {
		switch method {
		case "Debugger.setBreakpoint":
			return map[string]interface{}{
				"breakpointId": "1:15:4:7",
				"actualLocation": map[string]interface{}{
					"scriptId":     params.Get("location.scriptId").String(),
					"lineNumber":   params.Get("location.lineNumber").Int(),
					"columnNumber": 6,
				},
			}, ""
		case "Debugger.removeBreakpoint":
			return nil, "no breakpoint with such id"
		}
		return map[string]interface{}{}, ""
	})
	c := dial(t, rt)
	target := NewTarget(c)
	ctx := context.Background()

	id, loc, err := target.SetBreakpoint(ctx, breakpoints.InScript{Script: "7", Position: location.At(15, 4)})
	require.NoError(t, err)
	assert.Equal(t, breakpoints.DebuggeeID("1:15:4:7"), id)
	assert.Equal(t, location.New(scripts.ScriptID("7"), location.At(15, 6)), loc)

	err = target.RemoveBreakpoint(ctx, "nope")
	var re *ResponseError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, "Debugger.removeBreakpoint", re.Method)
	assert.Equal(t, "no breakpoint with such id", re.Message)

	require.NoError(t, target.Resume(ctx))
}

func TestEventsInOrder(t *testing.T) {
	rt := newFakeRuntime(t, func(method string, params gjson.Result) (interface{}, string) {
		return map[string]interface{}{}, ""
	})
	c := dial(t, rt)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	c.OnEvent(func(ev Event) {
		// Handlers may call back into the connection.
		_ = proto.DebuggerResume{}.Call(client{c, context.Background()})
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Method+" "+gjson.GetBytes(ev.Params, "scriptId").String())
		if len(got) == 3 {
			close(done)
		}
	})
	<-rt.ready
	for _, id := range []string{"1", "2", "3"} {
		rt.notify(EventScriptParsed, map[string]interface{}{"scriptId": id, "url": "file:///a.js"})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"Debugger.scriptParsed 1",
		"Debugger.scriptParsed 2",
		"Debugger.scriptParsed 3",
	}, got)
}

func TestCallAfterClose(t *testing.T) {
	rt := newFakeRuntime(t, nil)
	c := dial(t, rt)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "", "Debugger.pause", nil)
		errc <- err
	}()
	// The fake runtime never answers; closing fails the pending call.
	require.Eventually(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.received) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, <-errc, ErrConnClosed)

	_, err := c.Call(context.Background(), "", "Debugger.resume", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
	<-c.Done()
}

func TestCallContextCanceled(t *testing.T) {
	rt := newFakeRuntime(t, nil)
	c := dial(t, rt)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, "", "Debugger.pause", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodePaused(t *testing.T) {
	params := json.RawMessage(`{
		"reason": "instrumentation",
		"data": {"scriptId": "42", "url": "file:///app.js"},
		"hitBreakpoints": [],
		"callFrames": [{
			"callFrameId": "f0",
			"functionName": "",
			"location": {"scriptId": "42", "lineNumber": 0, "columnNumber": 0},
			"url": "file:///app.js",
			"scopeChain": [],
			"this": {"type": "undefined"}
		}]
	}`)
	p, err := DecodePaused(params)
	require.NoError(t, err)
	assert.Equal(t, "instrumentation", p.Reason)
	assert.Equal(t, scripts.ScriptID("42"), p.Script)
	require.Len(t, p.CallFrames, 1)
	assert.Equal(t, location.New(scripts.ScriptID("42"), location.At(0, 0)), p.Location())
}

func TestDecodeScriptParsed(t *testing.T) {
	params := json.RawMessage(`{
		"scriptId": "7", "url": "file:///w/app.js",
		"startLine": 0, "startColumn": 0, "endLine": 40, "endColumn": 1,
		"executionContextId": 1, "hash": "h", "sourceMapURL": "app.js.map"
	}`)
	ev, err := DecodeScriptParsed(params)
	require.NoError(t, err)
	assert.Equal(t, scripts.ScriptParsed{
		ID:           "7",
		URL:          "file:///w/app.js",
		Start:        location.At(0, 0),
		End:          location.At(40, 1),
		Context:      1,
		SourceMapURL: "app.js.map",
	}, ev)

	id, err := DecodeContextCreated(json.RawMessage(`{"context":{"id":3,"origin":"","name":"main"}}`))
	require.NoError(t, err)
	assert.Equal(t, scripts.ExecutionContextID(3), id)
	id, err = DecodeContextDestroyed(json.RawMessage(`{"executionContextId":3}`))
	require.NoError(t, err)
	assert.Equal(t, scripts.ExecutionContextID(3), id)
}
