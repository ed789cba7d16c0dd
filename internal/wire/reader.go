package wire

import "encoding/binary"

// reader walks a message buffer, failing with ErrTruncated on any short read.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(field string, n int) error {
	if len(r.buf)-r.off < n {
		return &Error{Field: field, Offset: r.off, Err: ErrTruncated}
	}
	return nil
}

func (r *reader) uint8(field string) (uint8, error) {
	if err := r.need(field, 1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) uint16(field string) (uint16, error) {
	if err := r.need(field, 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) uint32(field string) (uint32, error) {
	if err := r.need(field, 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64(field string) (uint64, error) {
	if err := r.need(field, 8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) addr(field string) ([16]byte, error) {
	var a [16]byte
	if err := r.need(field, 16); err != nil {
		return a, err
	}
	copy(a[:], r.buf[r.off:r.off+16])
	r.off += 16
	return a, nil
}

func (r *reader) bytes(field string, n int) ([]byte, error) {
	if err := r.need(field, n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+n])
	r.off += n
	return b, nil
}
