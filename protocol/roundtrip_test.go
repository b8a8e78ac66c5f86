package protocol_test

import (
	"math"
	"math/big"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/rudis/protocol"
)

func sampleFrames() map[string]protocol.Frame {
	huge, _ := new(big.Int).SetString("-1606938044258990275541962092341162602522202993782792835301376", 10)

	nested := protocol.NewMap(
		protocol.MapEntry{Key: "name", Value: protocol.BulkString("rudis")},
		protocol.MapEntry{Key: "tags", Value: protocol.NewSet(protocol.SimpleString("a"), protocol.Double(math.NaN()))},
		protocol.MapEntry{Key: "empty", Value: protocol.Array{}},
	)

	return map[string]protocol.Frame{
		"simple string":     protocol.SimpleString("OK"),
		"simple error":      protocol.SimpleError("ERR something went wrong"),
		"max integer":       protocol.Integer(math.MaxInt64),
		"min integer":       protocol.Integer(math.MinInt64),
		"boolean":           protocol.Boolean(true),
		"fraction":          protocol.Double(-3.25),
		"negative zero":     protocol.Double(math.Copysign(0, -1)),
		"large double":      protocol.Double(6.02214076e23),
		"smallest double":   protocol.Double(math.SmallestNonzeroFloat64),
		"largest double":    protocol.Double(math.MaxFloat64),
		"NaN":               protocol.Double(math.NaN()),
		"-Inf":              protocol.Double(math.Inf(-1)),
		"big number":        protocol.NewBigNumber(huge),
		"binary bulk":       protocol.BulkString([]byte{0, 255, '\r', '\n', 'x'}),
		"null bulk string":  protocol.NullBulkString{},
		"null":              protocol.Null{},
		"nil array":         protocol.ArrayNil{},
		"bulk error":        protocol.NewBulkError([]byte("SYNTAX\r\nmultiline")),
		"nil bulk error":    protocol.NilBulkError(),
		"command":           protocol.Array{protocol.BulkString("SET"), protocol.BulkString("key"), protocol.BulkString("value")},
		"mixed array":       protocol.Array{protocol.BulkString("a"), protocol.Integer(1)},
		"nested containers": protocol.Array{nested, protocol.Array{protocol.ArrayNil{}, protocol.Null{}}, protocol.NewSet(nested)},
	}
}

var _ = Describe("Round trips", func() {
	It("decodes every encoded frame back to itself, consuming all of it", func() {
		for name, f := range sampleFrames() {
			b, err := protocol.Encode(f)
			Expect(err).To(Succeed(), name)

			decoded, n, err := protocol.Decode(b, 0)
			Expect(err).To(Succeed(), name)
			Expect(n).To(Equal(len(b)), name)
			Expect(decoded).To(EqualFrame(f), name)
		}
	})

	It("reports every strict prefix of a frame as incomplete", func() {
		for name, f := range sampleFrames() {
			b, err := protocol.Encode(f)
			Expect(err).To(Succeed(), name)

			for i := 0; i < len(b); i++ {
				_, _, err := protocol.Decode(b[:i], 0)
				Expect(err).To(MatchError(protocol.ErrIncomplete), "%s split at %d", name, i)
			}
		}
	})

	It("decodes a frame split over two reads the same as the whole frame", func() {
		for name, f := range sampleFrames() {
			b, err := protocol.Encode(f)
			Expect(err).To(Succeed(), name)

			whole, wholeN, err := protocol.Decode(b, 0)
			Expect(err).To(Succeed(), name)

			for i := 1; i < len(b); i++ {
				buf := append([]byte{}, b[:i]...)
				_, _, err := protocol.Decode(buf, 0)
				Expect(err).To(MatchError(protocol.ErrIncomplete))

				buf = append(buf, b[i:]...)
				got, n, err := protocol.Decode(buf, 0)
				Expect(err).To(Succeed(), "%s split at %d", name, i)
				Expect(n).To(Equal(wholeN))
				Expect(got).To(EqualFrame(whole))
			}
		}
	})

	It("returns the same result when decoding the same window repeatedly", func() {
		b, err := protocol.Encode(sampleFrames()["nested containers"])
		Expect(err).To(Succeed())

		buf := append([]byte("+skip\r\n"), b...)

		first, firstN, err := protocol.Decode(buf, 7)
		Expect(err).To(Succeed())

		for i := 0; i < 3; i++ {
			again, n, err := protocol.Decode(buf, 7)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(firstN))
			Expect(again).To(EqualFrame(first))
		}

		partial := buf[:len(buf)-1]
		for i := 0; i < 3; i++ {
			_, _, err := protocol.Decode(partial, 7)
			Expect(err).To(MatchError(protocol.ErrIncomplete))
		}
	})

	It("decodes a stream of frames back to back", func() {
		var stream []byte
		frames := []protocol.Frame{
			protocol.Integer(1),
			protocol.BulkString("two"),
			protocol.Array{protocol.SimpleString("three")},
		}

		for _, f := range frames {
			var err error
			stream, err = protocol.AppendFrame(stream, f)
			Expect(err).To(Succeed())
		}

		offset := 0
		for _, expected := range frames {
			f, n, err := protocol.Decode(stream, offset)
			Expect(err).To(Succeed())
			Expect(f).To(EqualFrame(expected))
			offset += n
		}

		Expect(offset).To(Equal(len(stream)))
	})
})
