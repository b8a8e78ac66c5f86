package protocol

import (
	"bytes"
	"errors"
	"math"
	"math/big"
	"strconv"
)

// Default decoder limits.
const (
	DefaultMaxBulkLength      = 512 * 1024 * 1024 // 512 MiB
	DefaultMaxAggregateLength = 1024 * 1024
	DefaultMaxLineLength      = 64 * 1024 // 64 KiB
	DefaultMaxDepth           = 128
)

// ErrInvalidOffset is returned when Decode is called with an offset that is
// negative or past the end of the buffer.
var ErrInvalidOffset = errors.New("decode offset out of range")

// Limits bounds what the decoder will accept, so that a peer cannot make it
// allocate or recurse without bound.
type Limits struct {
	// MaxBulkLength is the largest declared bulk string or bulk error length.
	MaxBulkLength int64

	// MaxAggregateLength is the largest declared array, map or set size.
	MaxAggregateLength int64

	// MaxLineLength is the longest line a simple type, or a length header,
	// may occupy, excluding the type byte and CRLF. The encoder refuses
	// lines longer than DefaultMaxLineLength, so a smaller limit can reject
	// frames this package encoded.
	MaxLineLength int

	// MaxDepth is how deeply arrays, maps and sets may nest.
	MaxDepth int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBulkLength:      DefaultMaxBulkLength,
		MaxAggregateLength: DefaultMaxAggregateLength,
		MaxLineLength:      DefaultMaxLineLength,
		MaxDepth:           DefaultMaxDepth,
	}
}

// withDefaults fills unset limits from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()

	if l.MaxBulkLength <= 0 {
		l.MaxBulkLength = d.MaxBulkLength
	}
	if l.MaxAggregateLength <= 0 {
		l.MaxAggregateLength = d.MaxAggregateLength
	}
	if l.MaxLineLength <= 0 {
		l.MaxLineLength = d.MaxLineLength
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}

	return l
}

// Decoder turns bytes into frames. It holds no state besides its limits, so
// one Decoder may be shared by any number of goroutines.
type Decoder struct {
	limits Limits
}

// NewDecoder returns a Decoder enforcing limits. Zero fields take their
// default value.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits.withDefaults()}
}

var defaultDecoder = NewDecoder(DefaultLimits())

// Decode decodes one frame from buf[offset:] using the default limits.
func Decode(buf []byte, offset int) (Frame, int, error) {
	return defaultDecoder.Decode(buf, offset)
}

// Limits returns the limits the decoder enforces.
func (d *Decoder) Limits() Limits {
	return d.limits
}

// Decode decodes one frame starting at buf[offset] and returns it along with
// the number of bytes it occupied.
//
// If buf does not yet hold the whole frame, Decode returns ErrIncomplete and
// the caller should retry with the same offset once more bytes are appended.
// Malformed input yields a *ProtocolError. buf is never modified and the
// returned frame does not alias it, so calling Decode again on the same
// window returns the same result.
func (d *Decoder) Decode(buf []byte, offset int) (Frame, int, error) {
	if offset < 0 || offset > len(buf) {
		return nil, 0, ErrInvalidOffset
	}

	if offset == len(buf) {
		return nil, 0, ErrIncomplete
	}

	r := reader{buf: buf, limits: d.limits}

	f, next, err := r.frame(offset, 0)
	if err != nil {
		return nil, 0, err
	}

	return f, next - offset, nil
}

// Scan reports how many bytes the frame at buf[offset] occupies, with the
// same ErrIncomplete and syntax errors as Decode, but without building the
// frame or copying payloads. Duplicate map keys, duplicate set members and
// null map keys are only reported by Decode.
//
// It lets a caller holding a large partial frame wait for the rest of it
// cheaply, and decode it once.
func (d *Decoder) Scan(buf []byte, offset int) (int, error) {
	if offset < 0 || offset > len(buf) {
		return 0, ErrInvalidOffset
	}

	if offset == len(buf) {
		return 0, ErrIncomplete
	}

	r := reader{buf: buf, limits: d.limits, scan: true}

	_, next, err := r.frame(offset, 0)
	if err != nil {
		return 0, err
	}

	return next - offset, nil
}

type reader struct {
	buf    []byte
	limits Limits

	// scan validates without building frames
	scan bool
}

// frame decodes the frame starting at pos and returns the position just past it.
func (r *reader) frame(pos, depth int) (Frame, int, error) {
	if pos >= len(r.buf) {
		return nil, pos, ErrIncomplete
	}

	kind := Kind(r.buf[pos])

	switch kind {
	case KindSimpleString, KindSimpleError:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		if bytes.IndexByte(line, '\r') >= 0 || bytes.IndexByte(line, '\n') >= 0 {
			return nil, pos, protocolErr(pos, ErrInvalidLine, line)
		}

		if r.scan {
			return nil, next, nil
		}

		if kind == KindSimpleError {
			return SimpleError(line), next, nil
		}
		return SimpleString(line), next, nil

	case KindInteger:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		v, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return nil, pos, protocolErr(pos, ErrInvalidInteger, line)
		}

		if r.scan {
			return nil, next, nil
		}

		return Integer(v), next, nil

	case KindBoolean:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		switch string(line) {
		case "t":
			return Boolean(true), next, nil
		case "f":
			return Boolean(false), next, nil
		default:
			return nil, pos, protocolErr(pos, ErrInvalidBoolean, line)
		}

	case KindDouble:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		v, ok := parseDouble(line)
		if !ok {
			return nil, pos, protocolErr(pos, ErrInvalidDouble, line)
		}

		return Double(v), next, nil

	case KindBigNumber:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		n, ok := parseBigNumber(line)
		if !ok {
			return nil, pos, protocolErr(pos, ErrInvalidBigNumber, line)
		}

		if r.scan {
			return nil, next, nil
		}

		return BigNumber{n: n}, next, nil

	case KindNull:
		line, next, err := r.line(pos + 1)
		if err != nil {
			return nil, pos, err
		}

		if len(line) != 0 {
			return nil, pos, protocolErr(pos, ErrMissingTerminator, line)
		}

		return Null{}, next, nil

	case KindBulkString, KindBulkError:
		return r.bulk(pos, kind)

	case KindArray, KindSet:
		return r.sequence(pos, kind, depth)

	case KindMap:
		return r.mapping(pos, depth)

	default:
		return nil, pos, protocolErr(pos, ErrUnknownType, r.buf[pos:pos+1])
	}
}

// line returns the bytes between pos and the next CRLF, and the position after
// the CRLF.
func (r *reader) line(pos int) ([]byte, int, error) {
	window := r.buf[pos:]

	i := bytes.Index(window, Terminal)
	if i < 0 {
		// A trailing CR might be the first half of the terminator.
		if len(window)-1 > r.limits.MaxLineLength {
			return nil, pos, protocolErr(pos, ErrLineTooLong, nil)
		}
		return nil, pos, ErrIncomplete
	}

	if i > r.limits.MaxLineLength {
		return nil, pos, protocolErr(pos, ErrLineTooLong, nil)
	}

	return window[:i], pos + i + len(Terminal), nil
}

// header reads the decimal length that follows a type byte at pos.
func (r *reader) header(pos int) (int64, int, error) {
	line, next, err := r.line(pos + 1)
	if err != nil {
		return 0, pos, err
	}

	n, ok := parseLength(line)
	if !ok {
		return 0, pos, protocolErr(pos, ErrInvalidLength, line)
	}

	return n, next, nil
}

func (r *reader) bulk(pos int, kind Kind) (Frame, int, error) {
	n, next, err := r.header(pos)
	if err != nil {
		return nil, pos, err
	}

	switch {
	case n == -1 && kind == KindBulkString:
		return NullBulkString{}, next, nil
	case n == -1:
		return NilBulkError(), next, nil
	case n < 0:
		return nil, pos, protocolErr(pos, ErrInvalidLength, strconv.AppendInt(nil, n, 10))
	case n > r.limits.MaxBulkLength:
		return nil, pos, protocolErr(pos, ErrLengthTooLarge, strconv.AppendInt(nil, n, 10))
	}

	// Only allocate once the whole payload and its CRLF have arrived.
	if int64(len(r.buf)-next)-2 < n {
		return nil, pos, ErrIncomplete
	}

	end := next + int(n)
	if r.buf[end] != '\r' || r.buf[end+1] != '\n' {
		return nil, pos, protocolErr(end, ErrMissingTerminator, nil)
	}

	if r.scan {
		return nil, end + 2, nil
	}

	payload := make([]byte, n)
	copy(payload, r.buf[next:end])

	if kind == KindBulkError {
		return NewBulkError(payload), end + 2, nil
	}
	return BulkString(payload), end + 2, nil
}

// count reads an aggregate header and checks it against the limits. A count
// of -1 is returned as is for the caller to interpret.
func (r *reader) count(pos, depth int) (int64, int, error) {
	if depth >= r.limits.MaxDepth {
		return 0, pos, protocolErr(pos, ErrTooDeep, nil)
	}

	n, next, err := r.header(pos)
	if err != nil {
		return 0, pos, err
	}

	if n > r.limits.MaxAggregateLength {
		return 0, pos, protocolErr(pos, ErrLengthTooLarge, strconv.AppendInt(nil, n, 10))
	}

	return n, next, nil
}

// capacity bounds a preallocation by what the buffered bytes could hold:
// every frame takes at least three bytes.
func (r *reader) capacity(n int64, pos int) int {
	if most := int64(len(r.buf)-pos) / 3; n > most {
		return int(most)
	}

	return int(n)
}

func (r *reader) sequence(pos int, kind Kind, depth int) (Frame, int, error) {
	n, next, err := r.count(pos, depth)
	if err != nil {
		return nil, pos, err
	}

	if n == -1 && kind == KindArray {
		return ArrayNil{}, next, nil
	}

	if n < 0 {
		return nil, pos, protocolErr(pos, ErrInvalidLength, strconv.AppendInt(nil, n, 10))
	}

	if r.scan {
		for i := int64(0); i < n; i++ {
			if _, next, err = r.frame(next, depth+1); err != nil {
				return nil, pos, err
			}
		}
		return nil, next, nil
	}

	if kind == KindArray {
		arr := make(Array, 0, r.capacity(n, next))
		for i := int64(0); i < n; i++ {
			var f Frame
			if f, next, err = r.frame(next, depth+1); err != nil {
				return nil, pos, err
			}
			arr = append(arr, f)
		}
		return arr, next, nil
	}

	set := &Set{
		members: make([]Frame, 0, r.capacity(n, next)),
		buckets: make(map[uint64][]int, r.capacity(n, next)),
	}
	for i := int64(0); i < n; i++ {
		at := next

		var f Frame
		if f, next, err = r.frame(next, depth+1); err != nil {
			return nil, pos, err
		}

		if !set.add(f) {
			return nil, pos, protocolErr(at, ErrDuplicateMember, nil)
		}
	}

	return set, next, nil
}

func (r *reader) mapping(pos, depth int) (Frame, int, error) {
	n, next, err := r.count(pos, depth)
	if err != nil {
		return nil, pos, err
	}

	if n < 0 {
		return nil, pos, protocolErr(pos, ErrInvalidLength, strconv.AppendInt(nil, n, 10))
	}

	if r.scan {
		for i := int64(0); i < n; i++ {
			at := next

			if _, next, err = r.frame(next, depth+1); err != nil {
				return nil, pos, err
			}

			if kind := Kind(r.buf[at]); kind != KindSimpleString && kind != KindBulkString {
				return nil, pos, protocolErr(at, ErrInvalidMapKey, nil)
			}

			if _, next, err = r.frame(next, depth+1); err != nil {
				return nil, pos, err
			}
		}
		return nil, next, nil
	}

	m := &Map{
		entries: make([]MapEntry, 0, r.capacity(n, next)),
		index:   make(map[string]int, r.capacity(n, next)),
	}

	for i := int64(0); i < n; i++ {
		at := next

		var k, v Frame
		if k, next, err = r.frame(next, depth+1); err != nil {
			return nil, pos, err
		}

		var key string
		switch kf := k.(type) {
		case SimpleString:
			key = string(kf)
		case BulkString:
			key = string(kf)
		default:
			return nil, pos, protocolErr(at, ErrInvalidMapKey, nil)
		}

		if v, next, err = r.frame(next, depth+1); err != nil {
			return nil, pos, err
		}

		if _, dup := m.index[key]; dup {
			return nil, pos, protocolErr(at, ErrDuplicateKey, []byte(key))
		}

		m.put(key, v)
	}

	return m, next, nil
}

// parseLength parses a non-negative decimal length or the -1 null sentinel.
// Anything else, including a leading '+', is rejected.
func parseLength(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	if b[0] == '-' {
		v, ok := parseDigits(b[1:])
		return -v, ok
	}

	return parseDigits(b)
}

func parseDigits(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	var v int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}

		if v > (math.MaxInt64-int64(c-'0'))/10 {
			return 0, false
		}

		v = v*10 + int64(c-'0')
	}

	return v, true
}

func parseDouble(b []byte) (float64, bool) {
	switch string(b) {
	case "nan":
		return math.NaN(), true
	case "inf", "+inf":
		return math.Inf(1), true
	case "-inf":
		return math.Inf(-1), true
	case "":
		return 0, false
	}

	// ParseFloat also accepts spellings such as "Infinity" and hex floats,
	// which are not valid on the wire.
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
		case c == '+', c == '-', c == '.', c == 'e', c == 'E':
		default:
			return 0, false
		}
	}

	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

func parseBigNumber(b []byte) (*big.Int, bool) {
	digits := b
	if len(digits) > 0 && (digits[0] == '-' || digits[0] == '+') {
		digits = digits[1:]
	}

	if len(digits) == 0 {
		return nil, false
	}

	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, false
		}
	}

	return new(big.Int).SetString(string(b), 10)
}
