// Package cdp talks to a runtime over its remote debugging websocket.
//
// Conn is the JSON-RPC transport; it implements the Client interface of
// github.com/go-rod/rod/lib/proto so the typed requests of that package
// can be sent over it. Target builds the breakpoint setters and the
// execution control the debugger needs on top of a Conn.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/go-delve/jsdebug/pkg/events"
	"github.com/go-delve/jsdebug/pkg/logflags"
)

// ErrConnClosed is returned by calls made on, or interrupted by, a
// closed connection.
var ErrConnClosed = errors.New("runtime connection closed")

// ResponseError is an error reported by the runtime for a request.
type ResponseError struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *ResponseError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}

// Event is a notification sent by the runtime.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

type request struct {
	ID        int         `json:"id"`
	SessionID string      `json:"sessionId,omitempty"`
	Method    string      `json:"method"`
	Params    interface{} `json:"params,omitempty"`
}

type reply struct {
	result []byte
	err    error
}

// Conn is a connection to a runtime.
type Conn struct {
	ws  *websocket.Conn
	log logflags.Logger
	bus *events.Bus

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan reply
	err     error
	done    chan struct{}
}

// Dial connects to the websocket debugger URL of a runtime, e.g.
// ws://127.0.0.1:9229/<uuid>.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return NewConn(ws), nil
}

// NewConn starts serving ws.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:      ws,
		log:     logflags.CDPLogger(),
		bus:     events.NewBus(),
		nextID:  1,
		pending: make(map[int]chan reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// OnEvent registers fn for every runtime notification. Notifications are
// delivered one at a time, in the order received, on a goroutine of
// their own, so fn may make calls on c.
func (c *Conn) OnEvent(fn func(Event)) (unsubscribe func()) {
	return events.Subscribe(c.bus, fn)
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Call sends a request and waits for its result. It implements
// proto.Client.
func (c *Conn) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	id := c.nextID
	c.nextID++
	ch := make(chan reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{ID: id, SessionID: sessionID, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return nil, err
	}
	c.log.Debugf("-> %s", data)
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case r := <-ch:
		if re, ok := r.err.(*ResponseError); ok {
			re.Method = method
		}
		return r.result, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.log.Debugf("<- %s", data)
		if id := gjson.GetBytes(data, "id"); id.Exists() {
			c.deliver(int(id.Int()), data)
			continue
		}
		method := gjson.GetBytes(data, "method")
		if !method.Exists() {
			c.log.Warnf("unexpected message from runtime: %s", data)
			continue
		}
		params := gjson.GetBytes(data, "params").Raw
		if params == "" {
			params = "{}"
		}
		c.bus.Publish(Event{
			Method:    method.String(),
			Params:    json.RawMessage(params),
			SessionID: gjson.GetBytes(data, "sessionId").String(),
		})
	}
}

func (c *Conn) deliver(id int, data []byte) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debugf("response to unknown request %d", id)
		return
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		ch <- reply{err: &ResponseError{
			Code:    int(e.Get("code").Int()),
			Message: e.Get("message").String(),
			Data:    e.Get("data").String(),
		}}
		return
	}
	result := gjson.GetBytes(data, "result").Raw
	if result == "" {
		result = "{}"
	}
	ch <- reply{result: []byte(result)}
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = ErrConnClosed
	if !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Debugf("runtime connection: %v", cause)
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: ErrConnClosed}
	}
	c.bus.Close()
	close(c.done)
}

// Close closes the connection and waits for pending notifications to
// be delivered.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
