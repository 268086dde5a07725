package service

import (
	"context"
	"net"

	"github.com/go-delve/jsdebug/service/debugger"
)

// Config provides the configuration to start a Debugger and expose it with a
// service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Debugger holds the session defaults. Attach arguments override
	// them.
	Debugger debugger.Config

	// Dial connects to the runtime at the websocket debugger URL given
	// in the attach request. Tests replace it with a fake runtime.
	Dial func(ctx context.Context, address string) (debugger.Target, error)

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
