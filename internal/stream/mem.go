package stream

import (
	"errors"
	"io"
)

// Mem is a growable in-memory io.ReadWriteSeeker, the medium NewOwning
// wraps when an encoder has nowhere else to put the codestream it's
// building (no destination file, just a byte slice the caller wants back
// at the end).
type Mem struct {
	buf []byte
	pos int64
}

// NewMem creates an empty growable memory medium.
func NewMem() *Mem { return &Mem{} }

// Read implements io.Reader.
func (m *Mem) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

// Write implements io.Writer, growing the backing slice as needed.
func (m *Mem) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

// Seek implements io.Seeker.
func (m *Mem) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = m.pos + offset
	case io.SeekEnd:
		target = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("stream: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("stream: negative position")
	}
	m.pos = target
	return target, nil
}

// Bytes returns the medium's full contents regardless of the current
// cursor position.
func (m *Mem) Bytes() []byte { return m.buf }
