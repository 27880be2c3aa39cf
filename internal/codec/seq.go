package codec

import "fmt"

// WriteSeq encodes a sequence as a u32 length followed by each element
// encoded with enc, in order.
func WriteSeq[T any](w *Writer, items []T, enc func(*Writer, T) error) error {
	if err := w.WriteU32(uint32(len(items))); err != nil {
		return err
	}
	for _, it := range items {
		if err := enc(w, it); err != nil {
			return err
		}
	}
	return nil
}

// ReadSeq decodes a sequence previously written with WriteSeq. maxLen
// bounds the element count against a corrupt length prefix; 0 means
// unbounded.
func ReadSeq[T any](r *Reader, maxLen uint32, dec func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && n > maxLen {
		return nil, fmt.Errorf("codec: sequence length %d exceeds max %d", n, maxLen)
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := dec(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteOption encodes an Option<T>: a u8 presence tag, then the payload
// if present.
func WriteOption[T any](w *Writer, v *T, enc func(*Writer, T) error) error {
	if v == nil {
		return w.WriteU8(0)
	}
	if err := w.WriteU8(1); err != nil {
		return err
	}
	return enc(w, *v)
}

// ReadOption decodes an Option<T> previously written with WriteOption.
func ReadOption[T any](r *Reader, dec func(*Reader) (T, error)) (*T, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		v, err := dec(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, &ErrUnknownTag{Type: "option", Tag: tag}
	}
}
