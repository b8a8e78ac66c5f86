package protocol

import (
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	Terminal = []byte("\r\n")

	nullBulkStringBytes = []byte("$-1\r\n")
	arrayNilBytes       = []byte("*-1\r\n")
	nilBulkErrorBytes   = []byte("!-1\r\n")
	nullBytes           = []byte("_\r\n")
	trueBytes           = []byte("#t\r\n")
	falseBytes          = []byte("#f\r\n")
)

// Encode returns the wire form of f.
func Encode(f Frame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, 64), f)
}

// WriteFrame encodes f and writes it to w in a single Write call. Nothing is
// written if f cannot be encoded.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// WriteError writes msg as a simple error. CR and LF in msg are replaced with
// spaces so the reply always stays on one line, and msg is cut to
// DefaultMaxLineLength.
func WriteError(w io.Writer, msg string) error {
	if len(msg) > DefaultMaxLineLength {
		msg = msg[:DefaultMaxLineLength]
	}

	return WriteFrame(w, SimpleError(SanitizeLine(msg)))
}

// SanitizeLine replaces CR and LF with spaces so s can be sent as a simple
// string or simple error.
func SanitizeLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}

	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

// AppendFrame appends the wire form of f to dst. On error dst is returned
// unchanged in length, though its spare capacity may have been written to.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	start := len(dst)

	out, err := appendFrame(dst, f)
	if err != nil {
		return dst[:start], err
	}

	return out, nil
}

func appendFrame(dst []byte, f Frame) ([]byte, error) {
	switch v := f.(type) {
	case nil:
		return dst, &EncodeError{Err: ErrNilFrame}

	case SimpleString:
		return appendLine(dst, KindSimpleString, string(v))

	case SimpleError:
		return appendLine(dst, KindSimpleError, string(v))

	case Integer:
		return appendInteger(dst, int64(v)), nil

	case Boolean:
		if v {
			return append(dst, trueBytes...), nil
		}
		return append(dst, falseBytes...), nil

	case Double:
		dst = append(dst, byte(KindDouble))
		dst = appendDouble(dst, float64(v))
		return append(dst, Terminal...), nil

	case BigNumber:
		start := len(dst)

		dst = append(dst, byte(KindBigNumber))
		dst = v.Int().Append(dst, 10)
		if len(dst)-start-1 > DefaultMaxLineLength {
			return dst[:start], &EncodeError{Kind: KindBigNumber, Err: ErrEncodedLineTooLong}
		}

		return append(dst, Terminal...), nil

	case BulkString:
		return appendBulk(dst, KindBulkString, v), nil

	case NullBulkString:
		return append(dst, nullBulkStringBytes...), nil

	case Null:
		return append(dst, nullBytes...), nil

	case ArrayNil:
		return append(dst, arrayNilBytes...), nil

	case BulkError:
		if !v.valid {
			return append(dst, nilBulkErrorBytes...), nil
		}
		return appendBulk(dst, KindBulkError, v.msg), nil

	case Array:
		dst = appendHeader(dst, KindArray, len(v))
		for _, e := range v {
			var err error
			if dst, err = appendFrame(dst, e); err != nil {
				return dst, err
			}
		}
		return dst, nil

	case *Map:
		dst = appendHeader(dst, KindMap, v.Len())
		for _, e := range v.Entries() {
			var err error
			if dst, err = appendLine(dst, KindSimpleString, e.Key); err != nil {
				return dst, err
			}
			if dst, err = appendFrame(dst, e.Value); err != nil {
				return dst, err
			}
		}
		return dst, nil

	case *Set:
		dst = appendHeader(dst, KindSet, v.Len())
		for _, m := range v.Members() {
			var err error
			if dst, err = appendFrame(dst, m); err != nil {
				return dst, err
			}
		}
		return dst, nil
	}

	// Frame is sealed, so this is only reachable through a nil pointer
	// stored in the interface or a new variant missing from the switch.
	return dst, &EncodeError{Kind: f.Kind(), Err: ErrUnknownFrame}
}

// appendLine writes <kind><s>\r\n, refusing text that would end the line
// early or that a decoder with default limits would reject.
func appendLine(dst []byte, kind Kind, s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return dst, &EncodeError{Kind: kind, Err: ErrInvalidSimpleString}
	}

	if len(s) > DefaultMaxLineLength {
		return dst, &EncodeError{Kind: kind, Err: ErrEncodedLineTooLong}
	}

	dst = append(dst, byte(kind))
	dst = append(dst, s...)
	return append(dst, Terminal...), nil
}

func appendInteger(dst []byte, v int64) []byte {
	dst = append(dst, byte(KindInteger))
	if v >= 0 {
		dst = append(dst, '+')
	}
	dst = strconv.AppendInt(dst, v, 10)
	return append(dst, Terminal...)
}

func appendHeader(dst []byte, kind Kind, n int) []byte {
	dst = append(dst, byte(kind))
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, Terminal...)
}

func appendBulk(dst []byte, kind Kind, b []byte) []byte {
	dst = appendHeader(dst, kind, len(b))
	dst = append(dst, b...)
	return append(dst, Terminal...)
}

// appendDouble writes v with an explicit sign. Large and tiny magnitudes use
// scientific notation with an unpadded exponent, e.g. +2e9 or -1.5e-5.
func appendDouble(dst []byte, v float64) []byte {
	switch {
	case math.IsNaN(v):
		return append(dst, "nan"...)
	case math.IsInf(v, 1):
		return append(dst, "+inf"...)
	case math.IsInf(v, -1):
		return append(dst, "-inf"...)
	}

	if !math.Signbit(v) {
		dst = append(dst, '+')
	}

	abs := math.Abs(v)
	if abs < 1e8 && (abs >= 1e-4 || v == 0) {
		return strconv.AppendFloat(dst, v, 'f', -1, 64)
	}

	// FormatFloat writes the exponent as e+09 / e-05.
	s := strconv.FormatFloat(v, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')

	exp, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return append(dst, s...)
	}

	dst = append(dst, s[:i]...)
	dst = append(dst, 'e')
	return strconv.AppendInt(dst, int64(exp), 10)
}
