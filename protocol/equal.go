package protocol

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math"
)

// Equal reports whether a and b are structurally equal: the same variant with
// the same payload. Doubles are equal when they would be written the same way,
// so every NaN equals every other NaN while +0 and -0 differ. Maps and sets
// compare without regard to order. Different variants are never equal, even
// when they hold the same number.
func Equal(a, b Frame) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case SimpleString:
		y, ok := b.(SimpleString)
		return ok && x == y

	case SimpleError:
		y, ok := b.(SimpleError)
		return ok && x == y

	case Integer:
		y, ok := b.(Integer)
		return ok && x == y

	case Boolean:
		y, ok := b.(Boolean)
		return ok && x == y

	case Double:
		y, ok := b.(Double)
		return ok && doubleBits(x) == doubleBits(y)

	case BigNumber:
		y, ok := b.(BigNumber)
		return ok && x.Int().Cmp(y.Int()) == 0

	case BulkString:
		y, ok := b.(BulkString)
		return ok && bytes.Equal(x, y)

	case NullBulkString:
		_, ok := b.(NullBulkString)
		return ok

	case Null:
		_, ok := b.(Null)
		return ok

	case ArrayNil:
		_, ok := b.(ArrayNil)
		return ok

	case BulkError:
		y, ok := b.(BulkError)
		return ok && x.valid == y.valid && bytes.Equal(x.msg, y.msg)

	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}

		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}

		return true

	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}

		for _, e := range x.Entries() {
			v, found := y.Get(e.Key)
			if !found || !Equal(e.Value, v) {
				return false
			}
		}

		return true

	case *Set:
		y, ok := b.(*Set)
		if !ok || x.Len() != y.Len() {
			return false
		}

		for _, m := range x.Members() {
			if !y.Contains(m) {
				return false
			}
		}

		return true
	}

	return false
}

// Hash returns a hash consistent with Equal: equal frames hash the same.
func Hash(f Frame) uint64 {
	h := fnv.New64a()
	var scratch [8]byte

	write := func(b []byte) {
		// hash.Hash never returns an error
		_, _ = h.Write(b)
	}

	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(scratch[:], v)
		write(scratch[:])
	}

	if f == nil {
		return h.Sum64()
	}

	switch x := f.(type) {
	case SimpleString:
		write([]byte{'+'})
		write([]byte(x))

	case SimpleError:
		write([]byte{'-'})
		write([]byte(x))

	case Integer:
		write([]byte{':'})
		writeUint(uint64(x))

	case Boolean:
		if x {
			write([]byte{'#', 't'})
		} else {
			write([]byte{'#', 'f'})
		}

	case Double:
		write([]byte{','})
		writeUint(doubleBits(x))

	case BigNumber:
		write([]byte{'('})
		write([]byte(x.String()))

	case BulkString:
		write([]byte{'$'})
		write(x)

	case NullBulkString:
		write([]byte("$-1"))

	case Null:
		write([]byte{'_'})

	case ArrayNil:
		write([]byte("*-1"))

	case BulkError:
		if !x.valid {
			write([]byte("!-1"))
			break
		}

		write([]byte{'!'})
		write(x.msg)

	case Array:
		write([]byte{'*'})
		writeUint(uint64(len(x)))
		for _, e := range x {
			writeUint(Hash(e))
		}

	case *Map:
		// Entries are combined with addition so that order does not matter.
		var sum uint64
		for _, e := range x.Entries() {
			sum += Hash(SimpleString(e.Key))*31 + Hash(e.Value)
		}

		write([]byte{'%'})
		writeUint(uint64(x.Len()))
		writeUint(sum)

	case *Set:
		var sum uint64
		for _, m := range x.Members() {
			sum += Hash(m)
		}

		write([]byte{'~'})
		writeUint(uint64(x.Len()))
		writeUint(sum)
	}

	return h.Sum64()
}

// doubleBits maps every NaN onto one pattern so they compare and hash alike.
func doubleBits(d Double) uint64 {
	f := float64(d)
	if math.IsNaN(f) {
		return math.Float64bits(math.NaN())
	}

	return math.Float64bits(f)
}
