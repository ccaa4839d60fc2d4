// Package wire implements the byte-level encoding for Wuild segments and
// frame bodies: fixed-width scalars, length-prefixed strings (pstr),
// length-prefixed byte blobs, and length-prefixed vectors, all
// big-endian by default per spec §6.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ByteOrder abstracts the scalar encoding a handler uses. Big-endian is
// the default and the only order any current dialect negotiates away
// from, but the type keeps the door open per spec §4.1 ("negotiated by
// convention between client and server").
type ByteOrder = binary.ByteOrder

// DefaultByteOrder is big-endian, per spec §6.
var DefaultByteOrder ByteOrder = binary.BigEndian

// ErrShortRead is wrapped around io errors encountered while decoding
// a length-prefixed field whose declared length exceeds what remains.
var ErrShortRead = fmt.Errorf("wire: short read")

// Writer accumulates an encoded frame body.
type Writer struct {
	order ByteOrder
	buf   []byte
}

// NewWriter returns a Writer using the given byte order.
func NewWriter(order ByteOrder) *Writer {
	if order == nil {
		order = DefaultByteOrder
	}
	return &Writer{order: order}
}

// Bytes returns the accumulated encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// U8 appends a single byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U32 appends a 4-byte unsigned integer.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U64 appends an 8-byte unsigned integer.
func (w *Writer) U64(v uint64) {
	var b [8]byte
	w.order.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// I64 appends an 8-byte signed integer.
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// Bool appends a boolean as a single byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

// PStr appends a length-prefixed string: u32 length then raw bytes.
func (w *Writer) PStr(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Blob appends a length-prefixed byte slice: u32 length then raw bytes.
func (w *Writer) Blob(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// PStrVec appends a length-prefixed vector of strings: u32 count then
// each string as a PStr.
func (w *Writer) PStrVec(ss []string) {
	w.U32(uint32(len(ss)))
	for _, s := range ss {
		w.PStr(s)
	}
}

// Raw appends raw bytes with no length prefix.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Reader decodes fields written by Writer from a byte slice.
type Reader struct {
	order ByteOrder
	buf   []byte
	pos   int
}

// NewReader returns a Reader over buf using the given byte order.
func NewReader(buf []byte, order ByteOrder) *Reader {
	if order == nil {
		order = DefaultByteOrder
	}
	return &Reader{order: order, buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortRead, n, r.Remaining())
	}
	return nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// U32 reads a 4-byte unsigned integer.
func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := r.order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// U64 reads an 8-byte unsigned integer.
func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := r.order.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// I64 reads an 8-byte signed integer.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// Bool reads a boolean encoded as a single byte.
func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

// PStr reads a length-prefixed string.
func (r *Reader) PStr() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Blob reads a length-prefixed byte slice. The returned slice is a copy.
func (r *Reader) Blob() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// PStrVec reads a length-prefixed vector of strings.
func (r *Reader) PStrVec() ([]string, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.PStr()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Raw reads exactly n raw bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// ReadFull reads n bytes directly from an io.Reader, used by the
// transport layer to pull a declared-length segment payload off the
// socket before handing it to a Reader for field decoding.
func ReadFull(r io.Reader, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read %d bytes: %w", n, err)
	}
	return buf, nil
}
