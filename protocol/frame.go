package protocol

import (
	"math/big"
)

// Kind is the wire type tag of a Frame.
type Kind byte

const (
	KindSimpleString Kind = '+'
	KindSimpleError  Kind = '-'
	KindInteger      Kind = ':'
	KindBoolean      Kind = '#'
	KindDouble       Kind = ','
	KindBigNumber    Kind = '('
	KindBulkString   Kind = '$'
	KindNull         Kind = '_'
	KindArray        Kind = '*'
	KindBulkError    Kind = '!'
	KindMap          Kind = '%'
	KindSet          Kind = '~'
)

func (k Kind) String() string {
	switch k {
	case KindSimpleString:
		return "simple string"
	case KindSimpleError:
		return "simple error"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindDouble:
		return "double"
	case KindBigNumber:
		return "big number"
	case KindBulkString:
		return "bulk string"
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	case KindBulkError:
		return "bulk error"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	default:
		return "unknown(" + string([]byte{byte(k)}) + ")"
	}
}

// Frame is one unit of RESP data. The set of implementations is closed, only
// the types in this package satisfy it.
//
// Frames are immutable once built. Callers must not modify the byte slices or
// frame slices they pass to, or get back from, a Frame.
type Frame interface {
	// Kind returns the wire tag the frame is written with. The legacy null
	// variants share the tag of the type they stand in for.
	Kind() Kind

	frame()
}

// SimpleString is a short, CRLF-free status string such as OK.
type SimpleString string

// SimpleError is a short, CRLF-free error message such as "ERR unknown command".
type SimpleError string

// Integer is a signed 64 bit integer.
type Integer int64

// Boolean is a RESP3 boolean.
type Boolean bool

// Double is a RESP3 double. NaN and both infinities are representable.
type Double float64

// BulkString is a binary safe, length prefixed byte string.
type BulkString []byte

// NullBulkString is the legacy RESP2 null, written as $-1.
type NullBulkString struct{}

// Null is the RESP3 null.
type Null struct{}

// Array is an ordered sequence of frames.
type Array []Frame

// ArrayNil is the legacy RESP2 null array, written as *-1.
type ArrayNil struct{}

func (SimpleString) Kind() Kind   { return KindSimpleString }
func (SimpleError) Kind() Kind    { return KindSimpleError }
func (Integer) Kind() Kind        { return KindInteger }
func (Boolean) Kind() Kind        { return KindBoolean }
func (Double) Kind() Kind         { return KindDouble }
func (BigNumber) Kind() Kind      { return KindBigNumber }
func (BulkString) Kind() Kind     { return KindBulkString }
func (NullBulkString) Kind() Kind { return KindBulkString }
func (Null) Kind() Kind           { return KindNull }
func (Array) Kind() Kind          { return KindArray }
func (ArrayNil) Kind() Kind       { return KindArray }
func (BulkError) Kind() Kind      { return KindBulkError }
func (*Map) Kind() Kind           { return KindMap }
func (*Set) Kind() Kind           { return KindSet }

func (SimpleString) frame()   {}
func (SimpleError) frame()    {}
func (Integer) frame()        {}
func (Boolean) frame()        {}
func (Double) frame()         {}
func (BigNumber) frame()      {}
func (BulkString) frame()     {}
func (NullBulkString) frame() {}
func (Null) frame()           {}
func (Array) frame()          {}
func (ArrayNil) frame()       {}
func (BulkError) frame()      {}
func (*Map) frame()           {}
func (*Set) frame()           {}

// BigNumber is an arbitrary precision integer.
type BigNumber struct {
	n *big.Int
}

// NewBigNumber returns a BigNumber holding a copy of n. A nil n is zero.
func NewBigNumber(n *big.Int) BigNumber {
	c := new(big.Int)
	if n != nil {
		c.Set(n)
	}

	return BigNumber{n: c}
}

// BigNumberFromInt64 returns a BigNumber holding v.
func BigNumberFromInt64(v int64) BigNumber {
	return BigNumber{n: big.NewInt(v)}
}

// Int returns a copy of the number.
func (b BigNumber) Int() *big.Int {
	if b.n == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(b.n)
}

func (b BigNumber) String() string {
	if b.n == nil {
		return "0"
	}

	return b.n.String()
}

// BulkError is a length prefixed error. The message may be absent, which is
// written as !-1.
type BulkError struct {
	msg   []byte
	valid bool
}

// NewBulkError returns a BulkError carrying msg.
func NewBulkError(msg []byte) BulkError {
	if msg == nil {
		msg = []byte{}
	}

	return BulkError{msg: msg, valid: true}
}

// NilBulkError returns a BulkError without a message.
func NilBulkError() BulkError {
	return BulkError{}
}

// Message returns the error message and whether one is present.
func (e BulkError) Message() ([]byte, bool) {
	return e.msg, e.valid
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   string
	Value Frame
}

// Map is a RESP3 map from text keys to frames. Entries keep the order they
// were added in, which is the order they are encoded in.
type Map struct {
	entries []MapEntry
	index   map[string]int
}

// NewMap builds a Map from entries. A repeated key replaces the value of the
// earlier entry and keeps its position.
func NewMap(entries ...MapEntry) *Map {
	m := &Map{
		entries: make([]MapEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		m.put(e.Key, e.Value)
	}

	return m
}

func (m *Map) put(key string, value Frame) {
	if i, ok := m.index[key]; ok {
		m.entries[i].Value = value
		return
	}

	m.index[key] = len(m.entries)
	m.entries = append(m.entries, MapEntry{Key: key, Value: value})
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}

	return len(m.entries)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Frame, bool) {
	if m == nil {
		return nil, false
	}

	i, ok := m.index[key]
	if !ok {
		return nil, false
	}

	return m.entries[i].Value, true
}

// Entries returns a copy of the entries in encode order.
func (m *Map) Entries() []MapEntry {
	if m == nil {
		return nil
	}

	out := make([]MapEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Set is a RESP3 set. Members are unique under Equal and keep the order they
// were added in.
type Set struct {
	members []Frame
	buckets map[uint64][]int
}

// NewSet builds a Set from members, dropping any member equal to one already
// added.
func NewSet(members ...Frame) *Set {
	s := &Set{
		members: make([]Frame, 0, len(members)),
		buckets: make(map[uint64][]int, len(members)),
	}

	for _, m := range members {
		s.add(m)
	}

	return s
}

// add appends f unless an equal member exists and reports whether it did.
func (s *Set) add(f Frame) bool {
	h := Hash(f)
	for _, i := range s.buckets[h] {
		if Equal(s.members[i], f) {
			return false
		}
	}

	s.buckets[h] = append(s.buckets[h], len(s.members))
	s.members = append(s.members, f)
	return true
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}

	return len(s.members)
}

// Contains reports whether an equal member is in the set.
func (s *Set) Contains(f Frame) bool {
	if s == nil {
		return false
	}

	for _, i := range s.buckets[Hash(f)] {
		if Equal(s.members[i], f) {
			return true
		}
	}

	return false
}

// Members returns a copy of the members in encode order.
func (s *Set) Members() []Frame {
	if s == nil {
		return nil
	}

	out := make([]Frame, len(s.members))
	copy(out, s.members)
	return out
}
