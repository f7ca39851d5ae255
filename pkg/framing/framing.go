// Package framing implements the length-prefixed JSON frame codec used on the
// client stream and on the parent/worker pipe.
//
// A frame is a 4-byte little-endian signed length followed by that many bytes
// of UTF-8 JSON.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HeaderSize is the size of the length prefix
const HeaderSize = 4

// MaxFrameSize bounds the body length accepted by Decode
const MaxFrameSize = 16 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrNegativeLength is returned for a corrupt length prefix
	ErrNegativeLength = errors.New("frame length is negative")
)

// Encode serializes v to JSON and prefixes it with its length
func Encode(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return EncodeRaw(body), nil
}

// EncodeRaw frames an already serialized JSON body
func EncodeRaw(body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(int32(len(body))))
	copy(frame[HeaderSize:], body)
	return frame
}

// ReadFrame reads one frame body from r. It returns io.EOF only when the
// stream ends cleanly on a frame boundary.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length < 0 {
		return nil, ErrNegativeLength
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return body, nil
}

// Decode reads one frame from r and unmarshals it into v
func Decode(r io.Reader, v interface{}) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return nil
}

// Writer writes frames to an underlying stream. Every frame is handed to
// the destination in a single Write call and flushed when the destination
// supports it. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	frames int
	bytes  int64
}

// NewWriter creates a frame writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes v and writes it as one frame
func (fw *Writer) WriteFrame(v interface{}) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	return fw.write(frame)
}

// WriteRaw writes a pre-serialized JSON body as one frame
func (fw *Writer) WriteRaw(body []byte) error {
	return fw.write(EncodeRaw(body))
}

func (fw *Writer) write(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, err := fw.w.Write(frame)
	fw.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("failed to write frame: %w", io.ErrShortWrite)
	}
	fw.frames++

	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Frames returns the number of frames written
func (fw *Writer) Frames() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.frames
}

// Bytes returns the number of bytes written, prefixes included
func (fw *Writer) Bytes() int64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.bytes
}

// Reader reads consecutive frames from a stream
type Reader struct {
	r io.Reader
}

// NewReader creates a frame reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next frame body
func (fr *Reader) Next() ([]byte, error) {
	return ReadFrame(fr.r)
}

// Decode reads the next frame into v
func (fr *Reader) Decode(v interface{}) error {
	return Decode(fr.r, v)
}
