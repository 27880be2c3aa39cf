package codec

import "github.com/google/uuid"

// WriteUUID writes a 16-byte correlation token with no length prefix, per
// the newtype-wrapper composition rule (fixed-width, like other
// primitives).
func (w *Writer) WriteUUID(u uuid.UUID) error {
	return w.WriteRaw(u[:])
}

func (r *Reader) ReadUUID() (uuid.UUID, error) {
	b, err := r.ReadRaw(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}
