package encoding

import (
	"encoding/binary"
	"errors"
	"io"
)

// lenWidth is the on-disk width of a frame's key length.
const lenWidth = 8

// ErrKeyLength reports a frame whose key length exceeds the reader's limit.
var ErrKeyLength = errors.New("key length exceeds limit")

// WriteKey writes a length-prefixed key to w and returns the bytes written.
func WriteKey(w io.Writer, key string) (int, error) {
	var lenBuf [lenWidth]byte
	binary.NativeEndian.PutUint64(lenBuf[:], uint64(len(key)))
	n, err := w.Write(lenBuf[:])
	if err != nil {
		return n, err
	}
	kn, err := io.WriteString(w, key)
	return n + kn, err
}

// KeyReader reads length-prefixed keys, reusing a bounded scratch buffer
// across frames.
type KeyReader struct {
	scratch []byte
	limit   int
}

// NewKeyReader returns a reader accepting keys up to limit bytes.
func NewKeyReader(limit int) *KeyReader {
	return &KeyReader{scratch: make([]byte, limit), limit: limit}
}

// Read consumes one length-prefixed key from r. A clean end of input
// returns io.EOF; input ending inside a frame returns io.ErrUnexpectedEOF.
// A length beyond the reader's limit returns ErrKeyLength without consuming
// the key bytes.
func (kr *KeyReader) Read(r io.Reader) (string, error) {
	var lenBuf [lenWidth]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	length := binary.NativeEndian.Uint64(lenBuf[:])
	if length > uint64(kr.limit) {
		return "", ErrKeyLength
	}
	buf := kr.scratch[:length]
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}
