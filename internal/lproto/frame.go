package lproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// WriteFrame writes b behind a big endian uint32 length.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		panic(fmt.Errorf(
			"ILLEGAL: frame size %d exceeds maximum %d", len(b), MaxFrameSize,
		))
	}

	out := make([]byte, 0, 4+len(b))
	out = binary.BigEndian.AppendUint32(out, uint32(len(b)))
	out = append(out, b...)

	// Shouldn't need to wrap this error;
	// callers know which frame they were writing.
	_, err := w.Write(out)
	return err
}

// ReadFrame reads one frame written by [WriteFrame],
// reusing buf if it is large enough.
func ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	var szBuf [4]byte
	if _, err := io.ReadFull(r, szBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	sz := binary.BigEndian.Uint32(szBuf[:])
	if sz > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d", sz, MaxFrameSize)
	}

	if cap(buf) < int(sz) {
		buf = make([]byte, sz)
	} else {
		buf = buf[:sz]
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return buf, nil
}

// WriteMessage msgpack-encodes v into a single frame.
func WriteMessage(w io.Writer, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return WriteFrame(w, b)
}

// ReadMessage decodes a frame written by [WriteMessage] into v.
func ReadMessage(r io.Reader, v any) error {
	b, err := ReadFrame(r, nil)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}

// WriteStreamType writes the header byte of a new stream.
func WriteStreamType(w io.Writer, t StreamType) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

// ReadStreamType reads the header byte of an accepted stream.
func ReadStreamType(r io.Reader) (StreamType, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read stream type: %w", err)
	}
	return StreamType(b[0]), nil
}
