package transport

import (
	"context"
	"errors"

	"github.com/luma/rudis/protocol"
)

// ErrCloseAfterReply can be returned by a Handler, alongside a reply, to have
// the connection closed once that reply has been written.
var ErrCloseAfterReply = errors.New("close connection after reply")

// Handler answers one request frame. The request is fully decoded and does
// not share memory with the connection buffer, so it may be retained.
//
// A nil reply with a nil error sends nothing.
type Handler interface {
	Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req protocol.Frame) (protocol.Frame, error)

func (f HandlerFunc) Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	return f(ctx, req)
}
