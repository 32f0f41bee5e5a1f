// Package packed defines the two on-disk record shapes used by both
// the probing and sorted-uniform n-gram tables (C4 and C5): a 64-bit
// key paired with either a (prob, backoff) pair or a lone prob. Records
// are encoded little-endian with no padding so that a packed.Table can
// be read directly out of a memory-mapped file on any platform.
package packed

import (
	"encoding/binary"
	"math"
)

// ProbBackoff is stored for every n-gram entry except those of the
// highest configured order: a log-e probability plus the weight to add
// when back-off drops one level shorter than this entry's context.
type ProbBackoff struct {
	Prob    float32
	Backoff float32
}

// Prob is stored for entries of the highest order, which never back off.
type Prob struct {
	Prob float32
}

// Codec encodes and decodes a fixed-size value to and from a packed
// byte buffer. Implementations must not pad: Size() is exactly the
// number of bytes Encode writes and Decode reads.
type Codec[V any] interface {
	Size() int
	Encode(buf []byte, v V)
	Decode(buf []byte) V
}

// KeySize is the width, in bytes, of the 64-bit key prefixing every record.
const KeySize = 8

// ProbBackoffCodec packs a ProbBackoff as two little-endian float32s (8 bytes).
type ProbBackoffCodec struct{}

func (ProbBackoffCodec) Size() int { return 8 }

func (ProbBackoffCodec) Encode(buf []byte, v ProbBackoff) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v.Prob))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v.Backoff))
}

func (ProbBackoffCodec) Decode(buf []byte) ProbBackoff {
	return ProbBackoff{
		Prob:    math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		Backoff: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
	}
}

// ProbCodec packs a lone Prob as one little-endian float32 (4 bytes).
type ProbCodec struct{}

func (ProbCodec) Size() int { return 4 }

func (ProbCodec) Encode(buf []byte, v Prob) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v.Prob))
}

func (ProbCodec) Decode(buf []byte) Prob {
	return Prob{Prob: math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))}
}

// Table is a fixed-stride, byte-packed array of (Key64, Value) records
// backed by a byte slice, which may be a view into a memory-mapped
// file. Index i occupies buf[i*stride : (i+1)*stride); the key occupies
// the first KeySize bytes, the value (encoded by codec) the rest.
type Table[V any] struct {
	buf    []byte
	codec  Codec[V]
	stride int
}

// NewTable wraps buf, which must have length a multiple of the record
// stride (KeySize + codec.Size()), as a Table of n = len(buf)/stride
// records.
func NewTable[V any](buf []byte, codec Codec[V]) Table[V] {
	return Table[V]{buf: buf, codec: codec, stride: KeySize + codec.Size()}
}

// Stride is the number of bytes occupied by one record.
func (t Table[V]) Stride() int { return t.stride }

// Len is the number of records the table holds.
func (t Table[V]) Len() int {
	if t.stride == 0 {
		return 0
	}
	return len(t.buf) / t.stride
}

// Bytes returns the raw backing slice, e.g. for writing to a file.
func (t Table[V]) Bytes() []byte { return t.buf }

// Key returns the key stored at record i.
func (t Table[V]) Key(i int) uint64 {
	off := i * t.stride
	return binary.LittleEndian.Uint64(t.buf[off : off+KeySize])
}

// SetKey overwrites the key stored at record i.
func (t Table[V]) SetKey(i int, key uint64) {
	off := i * t.stride
	binary.LittleEndian.PutUint64(t.buf[off:off+KeySize], key)
}

// Value returns the value stored at record i.
func (t Table[V]) Value(i int) V {
	off := i*t.stride + KeySize
	return t.codec.Decode(t.buf[off : off+t.codec.Size()])
}

// SetValue overwrites the value stored at record i.
func (t Table[V]) SetValue(i int, v V) {
	off := i*t.stride + KeySize
	t.codec.Encode(t.buf[off:off+t.codec.Size()], v)
}

// Set overwrites both key and value of record i.
func (t Table[V]) Set(i int, key uint64, v V) {
	t.SetKey(i, key)
	t.SetValue(i, v)
}

// Size returns the number of bytes a table of n records occupies.
func Size[V any](n int, codec Codec[V]) int {
	return n * (KeySize + codec.Size())
}

// Array is a fixed-stride, byte-packed, key-less array of values, used
// for the unigram section of the binary format (§6): indexed directly
// by WordIndex rather than by a hashed or sorted key, so each record is
// just codec.Size() bytes with no key prefix.
type Array[V any] struct {
	buf    []byte
	codec  Codec[V]
	stride int
}

// NewArray wraps buf, which must have length a multiple of codec.Size(),
// as an Array of len(buf)/codec.Size() values.
func NewArray[V any](buf []byte, codec Codec[V]) Array[V] {
	return Array[V]{buf: buf, codec: codec, stride: codec.Size()}
}

func (a Array[V]) Len() int {
	if a.stride == 0 {
		return 0
	}
	return len(a.buf) / a.stride
}

func (a Array[V]) Bytes() []byte { return a.buf }

func (a Array[V]) Get(i int) V {
	off := i * a.stride
	return a.codec.Decode(a.buf[off : off+a.stride])
}

func (a Array[V]) Set(i int, v V) {
	off := i * a.stride
	a.codec.Encode(a.buf[off:off+a.stride], v)
}

// ArraySize returns the number of bytes an Array of n values occupies.
func ArraySize[V any](n int, codec Codec[V]) int {
	return n * codec.Size()
}
