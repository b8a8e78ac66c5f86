package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// WriteQueueSize is how many replies may wait for the write loop before
	// the read loop stops decoding requests.
	WriteQueueSize = 127
)

var ErrNotStarted = errors.New("tcp server not started")

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	reuseport    bool
	listeners    []*TCPListener

	connOptions connOptions
	stats       *Stats

	log *zap.Logger
}

// connOptions is shared by every connection of a server
type connOptions struct {
	handler      Handler
	session      SessionOptions
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	stats := &Stats{}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		reuseport:    options.Reuseport,
		listeners:    make([]*TCPListener, 0, numListeners),
		stats:        stats,
		connOptions: connOptions{
			handler: options.Handler,
			session: SessionOptions{
				Limits:        options.Limits,
				MaxBufferSize: options.MaxBufferSize,
				Trace:         options.Trace,
				Stats:         stats,
			},
			idleTimeout:  options.IdleTimeout,
			writeTimeout: writeTimeout,
		},
		log: log,
	}
}

// Start binds every listener and then accepts connections in the
// background. Once it returns without error Addr reports where the server
// is listening.
func (t *TCP) Start(parentCtx context.Context) error {
	if t.connOptions.handler == nil {
		return errors.New("tcp server needs a handler")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	addr := t.addr

	for i := 0; i < t.numListeners; i++ {
		netListener, err := t.listen(addr)
		if err != nil {
			cancel()
			return multierr.Append(
				fmt.Errorf("failed to listen on %s: %w", addr, err),
				t.closeListeners(),
			)
		}

		// With port 0 the first bind picks the port and the rest share it
		addr = netListener.Addr().String()

		listener := newTCPListener(
			ctx,
			netListener,
			t.connOptions,
			t.log.Named("listener").With(zap.Int("listener", i)),
		)

		t.listeners = append(t.listeners, listener)
	}

	for _, listener := range t.listeners {
		t.startListener(listener)
	}

	return nil
}

func (t *TCP) listen(addr string) (net.Listener, error) {
	if t.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (t *TCP) startListener(listener *TCPListener) {
	t.stopWaiter.Add(1)

	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			// TODO(rolly) as any of the listeners can fail, but we don't treat this as fatal,
			//             you can end up with less than the required amount of listeners running
			t.log.Error("Listener stopped accepting", zap.Error(err))
		}
	}()
}

// Addr returns the address the server is bound to, or nil before Start.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Stats returns connection counters for the server.
func (t *TCP) Stats() StatsSnapshot {
	return t.stats.Snapshot()
}

// Close immediately closes all active listeners and connections.
//
// For a graceful shutdown, use Shutdown()
func (t *TCP) Close() error {
	if t.cancel == nil {
		return ErrNotStarted
	}

	t.log.Info("Stopping TCP server")
	t.cancel()

	err := t.closeListeners()

	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.closeConns())
	}

	t.stopWaiter.Wait()
	t.log.Info("TCP server stopped")

	return err
}

// Shutdown stops accepting connections and stops reading from the open
// ones, then waits for their queued replies to be written. If ctx is done
// before that, the remaining connections are closed.
func (t *TCP) Shutdown(ctx context.Context) error {
	if t.cancel == nil {
		return ErrNotStarted
	}

	t.log.Info("Shutting down TCP server")
	t.cancel()

	err := t.closeListeners()

	stopped := make(chan struct{})
	go func() {
		t.stopWaiter.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.log.Info("TCP server stopped")
		return err

	case <-ctx.Done():
		t.log.Warn("Connections did not drain in time, closing them")
		return multierr.Combine(err, ctx.Err(), t.Close())
	}
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	options  connOptions
	log      *zap.Logger

	closeOnce sync.Once
	closeErr  error

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup
}

func newTCPListener(
	ctx context.Context,
	listener net.Listener,
	options connOptions,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		options:     options,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting new connections. Open connections are left to
// finish.
func (t *TCPListener) Close() error {
	t.closeOnce.Do(func() {
		if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = err
		}
	})

	return t.closeErr
}

// Listen accepts connections until the listener is closed or its context is
// done, then waits for the connections it accepted to finish.
func (t *TCPListener) Listen() error {
	go func() {
		<-t.ctx.Done()

		if err := t.Close(); err != nil {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	defer func() {
		t.log.Info("Waiting for connections to finish")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			// TODO(rolly) can we recover from some classes of err?
			return err
		}

		tcpConn := newTCPConn(
			t.ctx,
			conn,
			t.options,
			t.log.Named("conn").With(zap.String("remote", conn.RemoteAddr().String())),
		)

		t.addConn(tcpConn)
		t.connWaiter.Add(1)

		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(tcpConn)

			if err := tcpConn.Serve(); err != nil {
				tcpConn.log.Info("Connection closed", zap.Error(err))
			}
		}()
	}
}

func (t *TCPListener) closeConns() (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
	conn.options.session.Stats.connOpened()
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
	conn.options.session.Stats.connClosed()
}

type TCPConn struct {
	ctx context.Context

	conn    net.Conn
	options connOptions
	session *Session

	writeQueue chan []byte

	closeOnce sync.Once

	log *zap.Logger
}

func newTCPConn(
	ctx context.Context,
	conn net.Conn,
	options connOptions,
	log *zap.Logger,
) *TCPConn {
	sessionOptions := options.session
	sessionOptions.Log = log.Named("session")

	return &TCPConn{
		ctx:        ctx,
		conn:       conn,
		options:    options,
		session:    NewSession(options.handler, sessionOptions),
		writeQueue: make(chan []byte, WriteQueueSize),
		log:        log,
	}
}

// Close closes the underlying connection, interrupting both loops.
func (t *TCPConn) Close() (err error) {
	t.closeOnce.Do(func() {
		err = t.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})

	return err
}

// Serve runs the read and write loops until the connection ends, then
// closes it.
func (t *TCPConn) Serve() error {
	t.log.Info("Connection opened")

	g, ctx := errgroup.WithContext(t.ctx)

	g.Go(func() error {
		// The read loop is the only sender, so closing the queue here lets
		// the write loop drain it and exit
		defer close(t.writeQueue)
		return t.ReadLoop(ctx)
	})

	g.Go(func() error {
		return t.WriteLoop()
	})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.stopReading()
		case <-done:
		}
	}()

	err := g.Wait()
	close(done)

	return multierr.Append(err, t.Close())
}

func (t *TCPConn) ReadLoop(ctx context.Context) error {
	log := t.log.Named("readLoop")
	defer log.Debug("Read loop exited")

	reply := func(data []byte) error {
		select {
		case t.writeQueue <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := t.session.Serve(ctx, &idleReader{conn: t.conn, timeout: t.options.idleTimeout}, reply)

	var netErr net.Error
	switch {
	case err == nil:
		log.Info("Client closed connection")
		return nil

	case t.ctx.Err() != nil:
		// The server is shutting down, reads were stopped on purpose
		return nil

	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("Closing idle connection", zap.Duration("idleTimeout", t.options.idleTimeout))
		return nil

	default:
		return err
	}
}

func (t *TCPConn) WriteLoop() error {
	log := t.log.Named("writeLoop")
	defer log.Debug("Write loop exited")

	// Keep draining until the read loop closes the queue, so replies to
	// requests that were already read are delivered
	for data := range t.writeQueue {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.options.writeTimeout)); err != nil {
			return err
		}

		if _, err := t.conn.Write(data); err != nil {
			log.Warn("Failed to write reply", zap.Error(err))
			return fmt.Errorf("failed to write reply: %w", err)
		}
	}

	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		err := cw.CloseWrite()
		if err != nil && !isNotConnected(err) {
			log.Warn("Failed to close writes on connection cleanly", zap.Error(err))
		}
	}

	return nil
}

// stopReading wakes a read loop blocked on the connection without
// discarding replies that are still queued.
func (t *TCPConn) stopReading() {
	if cr, ok := t.conn.(interface{ CloseRead() error }); ok {
		if err := cr.CloseRead(); err == nil {
			return
		}
	}

	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		t.log.Warn("Failed to interrupt read loop", zap.Error(err))
	}
}

func isNotConnected(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "transport endpoint is not connected")
}

// idleReader applies the idle timeout to every read
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}

	return r.conn.Read(p)
}
