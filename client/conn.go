package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/rudis/protocol"
)

const minReadSize = 4096

var (
	ErrNotConnected = errors.New("not connected")

	// ErrNil is returned by Get when the key has no value.
	ErrNil = errors.New("nil reply")
)

// Conn is a connection to a RESP server. Requests are sent one at a time
// and each waits for its reply, so a Conn may be shared between goroutines.
type Conn struct {
	mu sync.Mutex

	conn    net.Conn
	decoder *protocol.Decoder

	// buf holds reply bytes that have been read but not decoded
	buf []byte

	log *zap.Logger
}

func New(log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		decoder: protocol.NewDecoder(protocol.DefaultLimits()),
		log:     log,
	}
}

func (c *Conn) Connect(ctx context.Context, addr string) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		conn.Close()
		return errors.New("already connected")
	}

	c.conn = conn
	c.buf = c.buf[:0]

	return nil
}

// Disconnect closes the connection without sending QUIT.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	return c.dropLocked(nil)
}

// Do sends a command made of args as an array of bulk strings and returns
// the reply. Error replies are returned as frames, not as errors; see
// ReplyError.
func (c *Conn) Do(ctx context.Context, args ...string) (protocol.Frame, error) {
	if len(args) == 0 {
		return nil, errors.New("no command given")
	}

	req := make(protocol.Array, len(args))
	for i, arg := range args {
		req[i] = protocol.BulkString(arg)
	}

	return c.DoFrame(ctx, req)
}

// DoFrame sends req as is and returns the reply.
func (c *Conn) DoFrame(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	data, err := protocol.Encode(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	stop := c.watch(ctx)

	reply, err := c.roundTrip(data)
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			// The connection deadline can fire just before the context's
			err = context.DeadlineExceeded
		}

		// A reply may be half read, so the stream can't be trusted anymore
		return nil, c.dropLocked(err)
	}

	return reply, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}

	if err := ReplyError(reply); err != nil {
		return err
	}

	if s, ok := reply.(protocol.SimpleString); !ok || s != "PONG" {
		return fmt.Errorf("unexpected reply to PING: %s", FormatReply(reply))
	}

	return nil
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := c.Do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}

	if err := ReplyError(reply); err != nil {
		return nil, err
	}

	switch v := reply.(type) {
	case protocol.BulkString:
		return v, nil

	case protocol.NullBulkString, protocol.Null:
		return nil, ErrNil

	default:
		return nil, fmt.Errorf("unexpected reply to GET: %s", FormatReply(reply))
	}
}

func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	reply, err := c.DoFrame(ctx, protocol.Array{
		protocol.BulkString("SET"),
		protocol.BulkString(key),
		protocol.BulkString(value),
	})

	if err != nil {
		return err
	}

	return ReplyError(reply)
}

// Quit asks the server to close the connection, and closes our side once it
// has replied.
func (c *Conn) Quit(ctx context.Context) error {
	reply, err := c.Do(ctx, "QUIT")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err = c.dropLocked(nil)
	}

	return multierr.Append(ReplyError(reply), err)
}

func (c *Conn) roundTrip(data []byte) (protocol.Frame, error) {
	if _, err := c.conn.Write(data); err != nil {
		return nil, err
	}

	for {
		reply, n, err := c.decoder.Decode(c.buf, 0)
		if err == nil {
			c.buf = c.buf[:copy(c.buf, c.buf[n:])]
			return reply, nil
		}

		if !errors.Is(err, protocol.ErrIncomplete) {
			return nil, err
		}

		if err := c.read(); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) read() error {
	if cap(c.buf)-len(c.buf) < minReadSize {
		grown := make([]byte, len(c.buf), 2*cap(c.buf)+minReadSize)
		copy(grown, c.buf)
		c.buf = grown
	}

	n, err := c.conn.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]

	if n > 0 {
		return nil
	}

	if err == nil {
		err = errors.New("connection closed by server")
	}

	return err
}

// watch interrupts the connection when ctx is done. The returned func must
// be called once the round trip is over.
func (c *Conn) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			c.log.Warn("Failed to set deadline", zap.Error(err))
		}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		select {
		case <-ctx.Done():
			// Unblock any read or write in progress
			_ = c.conn.SetDeadline(time.Now())
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-stopped
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// dropLocked closes and forgets the connection. cause is returned along
// with any close error.
func (c *Conn) dropLocked(cause error) error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	c.conn = nil
	c.buf = c.buf[:0]

	return multierr.Append(cause, err)
}
