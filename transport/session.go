package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/luma/rudis/protocol"
)

const (
	// DefaultMaxBufferSize is the most undecoded data a session will hold
	// while waiting for the rest of a frame. It leaves room for the largest
	// bulk string the decoder accepts by default.
	DefaultMaxBufferSize = 1 << 30

	minReadSize = 4096

	// Buffers that grew beyond this are released once they have been fully
	// consumed, rather than being kept for the life of the connection.
	retainBufferSize = 64 * 1024
)

var (
	encodeFailedReply = []byte("-ERR reply encoding failed\r\n")
)

type SessionOptions struct {
	Limits protocol.Limits

	// MaxBufferSize caps the bytes held for a frame that has not fully
	// arrived. Zero means DefaultMaxBufferSize.
	MaxBufferSize int

	// Trace logs every request and reply at debug level.
	Trace bool

	Stats *Stats

	Log *zap.Logger
}

// Session runs the framing loop for a single connection. It owns the
// connection's receive buffer: bytes are appended as they are read, whole
// frames are decoded from the front and handed to the Handler, and the
// consumed prefix is dropped before the next read.
//
// A Session is not safe for concurrent use.
type Session struct {
	decoder       *protocol.Decoder
	handler       Handler
	maxBufferSize int
	trace         bool
	stats         *Stats
	log           *zap.Logger

	buf []byte

	// offset is where the next undecoded frame starts in buf
	offset int

	// partial is set while the frame at offset is known to be incomplete. It
	// is scanned, not decoded, until all of it has arrived.
	partial bool
}

func NewSession(handler Handler, options SessionOptions) *Session {
	maxBufferSize := options.MaxBufferSize
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}

	stats := options.Stats
	if stats == nil {
		stats = &Stats{}
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Session{
		decoder:       protocol.NewDecoder(options.Limits),
		handler:       handler,
		maxBufferSize: maxBufferSize,
		trace:         options.Trace,
		stats:         stats,
		log:           log,
	}
}

// Buffered returns the number of bytes read but not yet decoded.
func (s *Session) Buffered() int {
	return len(s.buf) - s.offset
}

// Serve reads requests from r and passes the encoded reply to each of them
// to reply, in request order, until the connection ends.
//
// It returns nil when the peer closes the connection (EOF or a zero length
// read) or when the handler asks for the connection to be closed. When the
// peer sends malformed data an error reply is passed to reply and the
// *protocol.ProtocolError is returned. Any other error is from r, reply or
// ctx.
func (s *Session) Serve(ctx context.Context, r io.Reader, reply func([]byte) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.read(r)

		if n > 0 {
			done, perr := s.process(ctx, reply)
			if perr != nil || done {
				return perr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if n == 0 {
			return nil
		}
	}
}

// read appends what r has to the buffer. It never asks for more than one
// byte past maxBufferSize, which is enough for process to spot the overflow.
func (s *Session) read(r io.Reader) (int, error) {
	window := s.maxBufferSize - s.Buffered() + 1

	if cap(s.buf)-len(s.buf) < minReadSize && cap(s.buf)-len(s.buf) < window {
		size := 2*cap(s.buf) + minReadSize
		if limit := s.offset + s.maxBufferSize + 1; size > limit {
			size = limit
		}

		grown := make([]byte, len(s.buf), size)
		copy(grown, s.buf)
		s.buf = grown
	}

	end := cap(s.buf)
	if end-len(s.buf) > window {
		end = len(s.buf) + window
	}

	n, err := r.Read(s.buf[len(s.buf):end])
	s.buf = s.buf[:len(s.buf)+n]

	return n, err
}

// process handles every whole frame in the buffer. It reports done when the
// connection should be closed.
func (s *Session) process(ctx context.Context, reply func([]byte) error) (bool, error) {
	for {
		if s.partial {
			if _, err := s.decoder.Scan(s.buf, s.offset); errors.Is(err, protocol.ErrIncomplete) {
				return s.incomplete(reply)
			}

			s.partial = false
		}

		req, n, err := s.decoder.Decode(s.buf, s.offset)

		switch {
		case err == nil:
			if s.trace {
				s.log.Debug("Request", zap.ByteString("data", s.buf[s.offset:s.offset+n]))
			}

			s.offset += n

			done, err := s.dispatch(ctx, req, reply)
			if err != nil || done {
				return true, err
			}

		case errors.Is(err, protocol.ErrIncomplete):
			s.partial = s.Buffered() > 0
			return s.incomplete(reply)

		default:
			return true, s.fail(err, reply)
		}
	}
}

// incomplete makes room for the rest of a partial frame.
func (s *Session) incomplete(reply func([]byte) error) (bool, error) {
	s.compact()

	if s.Buffered() > s.maxBufferSize {
		return true, s.fail(&protocol.ProtocolError{
			Offset: s.offset,
			Err:    protocol.ErrBufferTooLarge,
		}, reply)
	}

	return false, nil
}

func (s *Session) dispatch(ctx context.Context, req protocol.Frame, reply func([]byte) error) (bool, error) {
	s.stats.request()

	resp, err := s.handler.Handle(ctx, req)

	closeAfter := errors.Is(err, ErrCloseAfterReply)
	if err != nil && !closeAfter {
		s.log.Warn("Handler failed", zap.Error(err))
		resp = protocol.SimpleError("ERR " + protocol.SanitizeLine(err.Error()))
	}

	if resp == nil {
		return closeAfter, nil
	}

	data, err := protocol.Encode(resp)
	if err != nil {
		// The request was consumed cleanly, so the stream is still in step
		// and the connection can carry on.
		s.stats.encodeError()
		s.log.Error("Failed to encode reply", zap.Error(err))
		data = encodeFailedReply
	}

	if s.trace {
		s.log.Debug("Reply", zap.ByteString("data", data))
	}

	if err := reply(data); err != nil {
		return true, fmt.Errorf("failed to queue reply: %w", err)
	}

	return closeAfter, nil
}

// fail answers a protocol error and hands it back so the caller closes the
// connection.
func (s *Session) fail(err error, reply func([]byte) error) error {
	s.stats.protocolError()
	s.log.Warn("Protocol error, closing connection", zap.Error(err))

	msg := protocol.SimpleError("ERR " + protocol.SanitizeLine(err.Error()))

	data, encErr := protocol.Encode(msg)
	if encErr != nil {
		return err
	}

	if replyErr := reply(data); replyErr != nil {
		s.log.Warn("Failed to send protocol error", zap.Error(replyErr))
	}

	return err
}

// compact drops the consumed prefix of the buffer.
func (s *Session) compact() {
	if s.offset == 0 {
		return
	}

	remaining := len(s.buf) - s.offset
	if remaining == 0 && cap(s.buf) > retainBufferSize {
		s.buf = nil
		s.offset = 0
		return
	}

	copy(s.buf, s.buf[s.offset:])
	s.buf = s.buf[:remaining]
	s.offset = 0
}
