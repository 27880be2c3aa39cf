// Package codec implements the deterministic binary encoding used on the
// wire between the host and its extensions. Every wire type has an
// encode/decode pair that round-trips byte for byte; see the composition
// rules in the protocol specification (primitives, sequences, products,
// sums, options, strings, newtypes).
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer serializes primitive and composite wire values to an underlying
// byte sink in the big-endian, length-prefixed encoding the protocol
// requires.
type Writer struct {
	w   io.Writer
	buf [8]byte
}

// NewWriter wraps w for encoding.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteU8(v uint8) error {
	w.buf[0] = v
	_, err := w.w.Write(w.buf[:1])
	return err
}

func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteU8(1)
	}
	return w.WriteU8(0)
}

func (w *Writer) WriteU16(v uint16) error {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	_, err := w.w.Write(w.buf[:2])
	return err
}

func (w *Writer) WriteU32(v uint32) error {
	binary.BigEndian.PutUint32(w.buf[:4], v)
	_, err := w.w.Write(w.buf[:4])
	return err
}

func (w *Writer) WriteU64(v uint64) error {
	binary.BigEndian.PutUint64(w.buf[:8], v)
	_, err := w.w.Write(w.buf[:8])
	return err
}

func (w *Writer) WriteI64(v int64) error {
	return w.WriteU64(uint64(v))
}

func (w *Writer) WriteF64(v float64) error {
	return w.WriteU64(math.Float64bits(v))
}

// WriteBytes encodes a byte sequence as a u32 length followed by the raw
// bytes.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteU32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.w.Write(b)
	return err
}

// WriteRaw writes bytes with no length prefix — for fixed-width newtypes
// such as a 16-byte correlation token.
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

// WriteString encodes a UTF-8 string as a u32 byte length followed by the
// bytes.
func (w *Writer) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}

// WriteTag writes a sum-type discriminant byte.
func (w *Writer) WriteTag(tag uint8) error {
	return w.WriteU8(tag)
}

// Reader deserializes wire values from an underlying byte source.
type Reader struct {
	r   io.Reader
	buf [8]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) fill(n int) ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		return nil, err
	}
	return r.buf[:n], nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.fill(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	if v > 1 {
		return false, fmt.Errorf("codec: invalid bool tag %d", v)
	}
	return v == 1, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads a u32-length-prefixed byte sequence. maxLen bounds the
// allocation to guard against a corrupt or hostile length prefix; pass 0
// for no bound.
func (r *Reader) ReadBytes(maxLen uint32) ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && n > maxLen {
		return nil, fmt.Errorf("codec: length %d exceeds max %d", n, maxLen)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRaw reads exactly n bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) ReadString(maxLen uint32) (string, error) {
	b, err := r.ReadBytes(maxLen)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadTag() (uint8, error) {
	return r.ReadU8()
}

// ErrUnknownTag is returned by a decode dispatch switch when a sum-type
// tag has no known variant. Per the wire contract this is fatal: callers
// must abort the decoding endpoint, not retry.
type ErrUnknownTag struct {
	Type string
	Tag  uint8
}

func (e *ErrUnknownTag) Error() string {
	return fmt.Sprintf("codec: unknown %s tag %d", e.Type, e.Tag)
}
