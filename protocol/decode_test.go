package protocol_test

import (
	"errors"
	"math"
	"math/big"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/rudis/protocol"
)

func decodeAll(input string) (protocol.Frame, int, error) {
	return protocol.Decode([]byte(input), 0)
}

var _ = Describe("Decode", func() {
	table.DescribeTable("complete frames",
		func(input string, expected protocol.Frame) {
			f, n, err := decodeAll(input)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(len(input)))
			Expect(f).To(EqualFrame(expected))
		},
		table.Entry("simple string", "+OK\r\n", protocol.SimpleString("OK")),
		table.Entry("simple error", "-ERR bad\r\n", protocol.SimpleError("ERR bad")),
		table.Entry("signed integer", ":+42\r\n", protocol.Integer(42)),
		table.Entry("unsigned integer", ":1000\r\n", protocol.Integer(1000)),
		table.Entry("negative integer", ":-7\r\n", protocol.Integer(-7)),
		table.Entry("true", "#t\r\n", protocol.Boolean(true)),
		table.Entry("false", "#f\r\n", protocol.Boolean(false)),
		table.Entry("double", ",1.5\r\n", protocol.Double(1.5)),
		table.Entry("scientific double", ",+2e9\r\n", protocol.Double(2e9)),
		table.Entry("unsigned inf", ",inf\r\n", protocol.Double(math.Inf(1))),
		table.Entry("nan", ",nan\r\n", protocol.Double(math.NaN())),
		table.Entry("big number", "(-12345\r\n", protocol.BigNumberFromInt64(-12345)),
		table.Entry("bulk string", "$5\r\nhello\r\n", protocol.BulkString("hello")),
		table.Entry("empty bulk string", "$0\r\n\r\n", protocol.BulkString("")),
		table.Entry("bulk string with CRLF inside", "$4\r\na\r\nb\r\n", protocol.BulkString("a\r\nb")),
		table.Entry("null bulk string", "$-1\r\n", protocol.NullBulkString{}),
		table.Entry("null", "_\r\n", protocol.Null{}),
		table.Entry("nil array", "*-1\r\n", protocol.ArrayNil{}),
		table.Entry("bulk error", "!3\r\nERR\r\n", protocol.NewBulkError([]byte("ERR"))),
		table.Entry("nil bulk error", "!-1\r\n", protocol.NilBulkError()),
		table.Entry("empty array", "*0\r\n", protocol.Array{}),
		table.Entry("array", "*2\r\n$1\r\na\r\n:+1\r\n", protocol.Array{protocol.BulkString("a"), protocol.Integer(1)}),
		table.Entry("map with a bulk string key", "%1\r\n$1\r\na\r\n:+1\r\n",
			protocol.NewMap(protocol.MapEntry{Key: "a", Value: protocol.Integer(1)})),
		table.Entry("set", "~2\r\n:+1\r\n,+1\r\n", protocol.NewSet(protocol.Integer(1), protocol.Double(1))),
	)

	table.DescribeTable("incomplete input",
		func(input string) {
			f, n, err := decodeAll(input)
			Expect(err).To(MatchError(protocol.ErrIncomplete))
			Expect(f).To(BeNil())
			Expect(n).To(BeZero())
		},
		table.Entry("empty buffer", ""),
		table.Entry("no terminator", "+OK"),
		table.Entry("half a terminator", "+OK\r"),
		table.Entry("bulk header only", "$5\r\n"),
		table.Entry("bulk payload without terminator", "$5\r\nhello"),
		table.Entry("bulk payload with half a terminator", "$5\r\nhello\r"),
		table.Entry("array missing elements", "*3\r\n:1\r\n:2\r\n"),
		table.Entry("map missing a value", "%1\r\n+a\r\n"),
		table.Entry("huge array with nothing buffered", "*1000000\r\n"),
	)

	table.DescribeTable("malformed input",
		func(input string, reason error) {
			_, _, err := decodeAll(input)
			Expect(protocol.IsProtocolError(err)).To(BeTrue(), "got %v", err)
			Expect(errors.Is(err, reason)).To(BeTrue(), "got %v", err)
		},
		table.Entry("unknown type byte", "?x\r\n", protocol.ErrUnknownType),
		table.Entry("unknown type byte alone", "x", protocol.ErrUnknownType),
		table.Entry("inline command", "PING\r\n", protocol.ErrUnknownType),
		table.Entry("non-numeric integer", ":abc\r\n", protocol.ErrInvalidInteger),
		table.Entry("empty integer", ":\r\n", protocol.ErrInvalidInteger),
		table.Entry("overflowing integer", ":99999999999999999999\r\n", protocol.ErrInvalidInteger),
		table.Entry("bad boolean", "#x\r\n", protocol.ErrInvalidBoolean),
		table.Entry("spelled out infinity", ",Infinity\r\n", protocol.ErrInvalidDouble),
		table.Entry("hex double", ",0x1p-2\r\n", protocol.ErrInvalidDouble),
		table.Entry("out of range double", ",1e400\r\n", protocol.ErrInvalidDouble),
		table.Entry("bad big number", "(12a\r\n", protocol.ErrInvalidBigNumber),
		table.Entry("sign only big number", "(-\r\n", protocol.ErrInvalidBigNumber),
		table.Entry("null with payload", "_x\r\n", protocol.ErrMissingTerminator),
		table.Entry("simple string with a lone LF", "+a\nb\r\n", protocol.ErrInvalidLine),
		table.Entry("non-numeric bulk length", "$abc\r\n", protocol.ErrInvalidLength),
		table.Entry("plus signed bulk length", "$+5\r\n", protocol.ErrInvalidLength),
		table.Entry("negative bulk length", "$-2\r\n", protocol.ErrInvalidLength),
		table.Entry("overflowing bulk length", "$99999999999999999999\r\n", protocol.ErrInvalidLength),
		table.Entry("bulk length over the limit", "$9999999999999\r\n", protocol.ErrLengthTooLarge),
		table.Entry("bad bulk terminator", "$5\r\nhelloXX", protocol.ErrMissingTerminator),
		table.Entry("negative array length", "*-2\r\n", protocol.ErrInvalidLength),
		table.Entry("nil map", "%-1\r\n", protocol.ErrInvalidLength),
		table.Entry("nil set", "~-1\r\n", protocol.ErrInvalidLength),
		table.Entry("array length over the limit", "*1048577\r\n", protocol.ErrLengthTooLarge),
		table.Entry("bad element", "*2\r\n:1\r\n?\r\n", protocol.ErrUnknownType),
		table.Entry("duplicate map key", "%2\r\n+a\r\n:1\r\n+a\r\n:2\r\n", protocol.ErrDuplicateKey),
		table.Entry("integer map key", "%1\r\n:1\r\n:2\r\n", protocol.ErrInvalidMapKey),
		table.Entry("duplicate set member", "~2\r\n:1\r\n:+1\r\n", protocol.ErrDuplicateMember),
	)

	It("decodes from the given offset", func() {
		buf := []byte("+a\r\n+b\r\n")

		f, n, err := protocol.Decode(buf, 4)
		Expect(err).To(Succeed())
		Expect(n).To(Equal(4))
		Expect(f).To(EqualFrame(protocol.SimpleString("b")))

		_, _, err = protocol.Decode(buf, len(buf))
		Expect(err).To(MatchError(protocol.ErrIncomplete))
	})

	It("rejects offsets outside the buffer", func() {
		_, _, err := protocol.Decode([]byte("+a\r\n"), -1)
		Expect(err).To(MatchError(protocol.ErrInvalidOffset))

		_, _, err = protocol.Decode([]byte("+a\r\n"), 5)
		Expect(err).To(MatchError(protocol.ErrInvalidOffset))

		_, _, err = protocol.Decode(nil, 1)
		Expect(err).To(MatchError(protocol.ErrInvalidOffset))
	})

	It("only consumes the first frame", func() {
		f, n, err := decodeAll(":1\r\n:2\r\n")
		Expect(err).To(Succeed())
		Expect(n).To(Equal(4))
		Expect(f).To(EqualFrame(protocol.Integer(1)))
	})

	It("reports the offending bytes", func() {
		_, _, err := protocol.Decode([]byte("+ok\r\n?oops\r\n"), 5)

		var perr *protocol.ProtocolError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Offset).To(Equal(5))
		Expect(perr.Error()).To(Equal("Protocol error: unknown type byte '?'"))
	})

	It("returns frames that do not alias the buffer", func() {
		buf := []byte("*1\r\n$3\r\nabc\r\n")

		f, _, err := protocol.Decode(buf, 0)
		Expect(err).To(Succeed())

		copy(buf, "XXXXXXXXXXXXX")
		Expect(f).To(EqualFrame(protocol.Array{protocol.BulkString("abc")}))
	})

	It("decodes big numbers wider than 128 bits", func() {
		digits := "-340282366920938463463374607431768211457123"
		f, _, err := decodeAll("(" + digits + "\r\n")
		Expect(err).To(Succeed())

		expected, _ := new(big.Int).SetString(digits, 10)
		Expect(f.(protocol.BigNumber).Int().Cmp(expected)).To(BeZero())
	})

	Describe("limits", func() {
		It("rejects a bulk string declared over the limit before it arrives", func() {
			d := protocol.NewDecoder(protocol.Limits{MaxBulkLength: 16})

			_, _, err := d.Decode([]byte("$17\r\n"), 0)
			Expect(errors.Is(err, protocol.ErrLengthTooLarge)).To(BeTrue())

			f, _, err := d.Decode([]byte("$16\r\n0123456789abcdef\r\n"), 0)
			Expect(err).To(Succeed())
			Expect(f).To(EqualFrame(protocol.BulkString("0123456789abcdef")))
		})

		It("rejects aggregates over the limit", func() {
			d := protocol.NewDecoder(protocol.Limits{MaxAggregateLength: 2})

			_, _, err := d.Decode([]byte("*3\r\n"), 0)
			Expect(errors.Is(err, protocol.ErrLengthTooLarge)).To(BeTrue())

			_, _, err = d.Decode([]byte("%3\r\n"), 0)
			Expect(errors.Is(err, protocol.ErrLengthTooLarge)).To(BeTrue())
		})

		It("rejects lines over the limit, with or without a terminator", func() {
			d := protocol.NewDecoder(protocol.Limits{MaxLineLength: 4})

			_, _, err := d.Decode([]byte("+hello\r\n"), 0)
			Expect(errors.Is(err, protocol.ErrLineTooLong)).To(BeTrue())

			_, _, err = d.Decode([]byte("+hello world"), 0)
			Expect(errors.Is(err, protocol.ErrLineTooLong)).To(BeTrue())

			_, _, err = d.Decode([]byte("+hell"), 0)
			Expect(err).To(MatchError(protocol.ErrIncomplete))
		})

		It("rejects nesting over the limit", func() {
			d := protocol.NewDecoder(protocol.Limits{MaxDepth: 2})

			_, _, err := d.Decode([]byte("*1\r\n*1\r\n:1\r\n"), 0)
			Expect(err).To(Succeed())

			_, _, err = d.Decode([]byte("*1\r\n*1\r\n*1\r\n:1\r\n"), 0)
			Expect(errors.Is(err, protocol.ErrTooDeep)).To(BeTrue())
		})

		It("fills unset limits with defaults", func() {
			d := protocol.NewDecoder(protocol.Limits{MaxDepth: 3})
			Expect(d.Limits()).To(Equal(protocol.Limits{
				MaxBulkLength:      protocol.DefaultMaxBulkLength,
				MaxAggregateLength: protocol.DefaultMaxAggregateLength,
				MaxLineLength:      protocol.DefaultMaxLineLength,
				MaxDepth:           3,
			}))
		})
	})
})

var _ = Describe("Decoder.Scan", func() {
	decoder := protocol.NewDecoder(protocol.DefaultLimits())

	inputs := []string{
		"+OK\r\n",
		":+42\r\n",
		"(-12345\r\n",
		"$5\r\nhello\r\n",
		"!-1\r\n",
		"*3\r\n$1\r\na\r\n*1\r\n_\r\n#t\r\n",
		"%2\r\n+a\r\n:+1\r\n$1\r\nb\r\n~1\r\n,+1.5\r\n",
	}

	It("measures the same frame Decode does", func() {
		for _, input := range inputs {
			_, want, err := decoder.Decode([]byte(input), 0)
			Expect(err).To(Succeed())

			Expect(decoder.Scan([]byte(input+":+1\r\n"), 0)).To(Equal(want), input)
		}
	})

	It("reports every prefix as incomplete", func() {
		for _, input := range inputs {
			for i := 0; i < len(input); i++ {
				_, err := decoder.Scan([]byte(input[:i]), 0)
				Expect(err).To(MatchError(protocol.ErrIncomplete), input[:i])
			}
		}
	})

	It("reports syntax errors", func() {
		_, err := decoder.Scan([]byte("*2\r\n:x\r\n"), 0)
		Expect(protocol.IsProtocolError(err)).To(BeTrue())

		_, err = decoder.Scan([]byte("%1\r\n:+1\r\n:+1\r\n"), 0)
		Expect(errors.Is(err, protocol.ErrInvalidMapKey)).To(BeTrue())
	})

	It("leaves duplicate detection to Decode", func() {
		input := []byte("~2\r\n:+1\r\n:+1\r\n")

		Expect(decoder.Scan(input, 0)).To(Equal(len(input)))

		_, _, err := decoder.Decode(input, 0)
		Expect(errors.Is(err, protocol.ErrDuplicateMember)).To(BeTrue())
	})

	It("rejects offsets outside the buffer", func() {
		_, err := decoder.Scan([]byte("+a\r\n"), 5)
		Expect(err).To(MatchError(protocol.ErrInvalidOffset))
	})
})
