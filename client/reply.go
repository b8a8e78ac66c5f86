package client

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/luma/rudis/protocol"
)

// ServerError is an error reply sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Code returns the first word of the message, e.g. ERR or NOPROTO.
func (e *ServerError) Code() string {
	if i := strings.IndexByte(e.Message, ' '); i >= 0 {
		return e.Message[:i]
	}

	return e.Message
}

// ReplyError returns a *ServerError if reply is a simple or bulk error, and
// nil for any other reply.
func ReplyError(reply protocol.Frame) error {
	switch v := reply.(type) {
	case protocol.SimpleError:
		return &ServerError{Message: string(v)}

	case protocol.BulkError:
		msg, _ := v.Message()
		return &ServerError{Message: string(msg)}
	}

	return nil
}

// FormatReply renders a reply for people to read, in the same style as
// redis-cli.
func FormatReply(reply protocol.Frame) string {
	return formatReply(reply, 0)
}

func formatReply(reply protocol.Frame, indent int) string {
	switch v := reply.(type) {
	case protocol.SimpleString:
		return string(v)

	case protocol.SimpleError:
		return "(error) " + string(v)

	case protocol.BulkError:
		msg, ok := v.Message()
		if !ok {
			return "(error) (nil)"
		}
		return "(error) " + string(msg)

	case protocol.Integer:
		return "(integer) " + strconv.FormatInt(int64(v), 10)

	case protocol.Double:
		return "(double) " + formatDouble(float64(v))

	case protocol.Boolean:
		if v {
			return "(true)"
		}
		return "(false)"

	case protocol.BigNumber:
		return "(big number) " + v.String()

	case protocol.BulkString:
		return quote(v)

	case protocol.NullBulkString, protocol.Null, protocol.ArrayNil:
		return "(nil)"

	case protocol.Array:
		if len(v) == 0 {
			return "(empty array)"
		}
		return formatItems(v, ")", indent)

	case *protocol.Set:
		if v.Len() == 0 {
			return "(empty set)"
		}
		return formatItems(v.Members(), "~", indent)

	case *protocol.Map:
		if v.Len() == 0 {
			return "(empty hash)"
		}
		return formatMap(v.Entries(), indent)

	case nil:
		return "(nil)"

	default:
		return fmt.Sprintf("(unknown %T)", reply)
	}
}

func formatItems(items []protocol.Frame, sep string, indent int) string {
	width := len(strconv.Itoa(len(items)))

	var b strings.Builder
	for i, item := range items {
		label := fmt.Sprintf("%*d%s ", width, i+1, sep)

		if i > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat(" ", indent))
		}

		b.WriteString(label)
		b.WriteString(formatReply(item, indent+len(label)))
	}

	return b.String()
}

func formatMap(entries []protocol.MapEntry, indent int) string {
	width := len(strconv.Itoa(len(entries)))

	var b strings.Builder
	for i, entry := range entries {
		label := fmt.Sprintf("%*d# %s => ", width, i+1, quote([]byte(entry.Key)))

		if i > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat(" ", indent))
		}

		b.WriteString(label)
		b.WriteString(formatReply(entry.Value, indent+len(label)))
	}

	return b.String()
}

func formatDouble(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	return strconv.FormatFloat(v, 'g', -1, 64)
}

// quote wraps b in double quotes, escaping anything that isn't printable
// ASCII. SplitArgs reads the result back to the same bytes.
func quote(b []byte) string {
	var s strings.Builder

	s.WriteByte('"')

	for _, c := range b {
		switch c {
		case '\\', '"':
			s.WriteByte('\\')
			s.WriteByte(c)
		case '\n':
			s.WriteString(`\n`)
		case '\r':
			s.WriteString(`\r`)
		case '\t':
			s.WriteString(`\t`)
		case '\a':
			s.WriteString(`\a`)
		case '\b':
			s.WriteString(`\b`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&s, `\x%02x`, c)
			} else {
				s.WriteByte(c)
			}
		}
	}

	s.WriteByte('"')

	return s.String()
}
