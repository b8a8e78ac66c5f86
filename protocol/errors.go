package protocol

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by the decoder when the buffer holds only part of
// a frame. It is not a failure: the caller should keep its bytes and decode
// again once more have arrived.
var ErrIncomplete = errors.New("incomplete frame")

// Reasons a ProtocolError can carry. Match them with errors.Is.
var (
	ErrUnknownType       = errors.New("unknown type byte")
	ErrInvalidLength     = errors.New("invalid length")
	ErrLengthTooLarge    = errors.New("length exceeds limit")
	ErrMissingTerminator = errors.New("expected CRLF terminator")
	ErrInvalidInteger    = errors.New("invalid integer")
	ErrInvalidDouble     = errors.New("invalid double")
	ErrInvalidBoolean    = errors.New("invalid boolean")
	ErrInvalidBigNumber  = errors.New("invalid big number")
	ErrInvalidLine       = errors.New("line contains CR or LF")
	ErrLineTooLong       = errors.New("line exceeds limit")
	ErrTooDeep           = errors.New("nesting exceeds limit")
	ErrDuplicateKey      = errors.New("duplicate map key")
	ErrDuplicateMember   = errors.New("duplicate set member")
	ErrInvalidMapKey     = errors.New("map key is not a string")
	ErrBufferTooLarge    = errors.New("too much unparsed data buffered")
)

// Reasons an EncodeError can carry.
var (
	ErrInvalidSimpleString = errors.New("simple string contains CR or LF")
	ErrEncodedLineTooLong  = errors.New("line exceeds the default line limit")
	ErrNilFrame            = errors.New("nil frame")
	ErrUnknownFrame        = errors.New("unknown frame type")
)

// ProtocolError reports bytes that violate the wire format. Framing is lost
// once one is seen, so a connection that produced it should be closed.
type ProtocolError struct {
	// Offset is the position in the buffer where the problem was found.
	Offset int
	Err    error
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "Protocol error: " + e.Err.Error()
	}

	return fmt.Sprintf("Protocol error: %s '%s'", e.Err.Error(), e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}

func protocolErr(offset int, reason error, detail []byte) error {
	const maxDetail = 32

	if len(detail) > maxDetail {
		detail = detail[:maxDetail]
	}

	// The detail is echoed back to the peer inside a simple error.
	clean := make([]byte, len(detail))
	for i, c := range detail {
		if c < 0x20 || c >= 0x7f {
			c = '?'
		}
		clean[i] = c
	}

	return &ProtocolError{Offset: offset, Err: reason, Detail: string(clean)}
}

// EncodeError reports a frame that cannot be written because its payload
// breaks a frame invariant. It points at a bug in whatever built the frame.
type EncodeError struct {
	Kind Kind
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode %s: %s", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
