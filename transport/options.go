package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/rudis/protocol"
)

// DefaultWriteTimeout bounds how long a reply write may block on a peer
// that has stopped reading.
const DefaultWriteTimeout = 10 * time.Second

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, zero picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT. Without it only a single
	// listener can be bound.
	// TODO(rolly) this https://blog.cloudflare.com/graceful-upgrades-in-go/
	Reuseport bool

	// NumListeners is the number of accept loops sharing the port, it
	// defaults to the number of CPUs
	NumListeners int

	// Trace will log every request and reply. This is only useful in local
	// debugging
	Trace bool

	Handler Handler

	// Limits for decoding requests, zero fields take protocol defaults
	Limits protocol.Limits

	// MaxBufferSize caps undecoded bytes held per connection
	MaxBufferSize int

	// IdleTimeout closes connections that send nothing for this long. Zero
	// disables it.
	IdleTimeout time.Duration

	WriteTimeout time.Duration

	Log *zap.Logger
}
