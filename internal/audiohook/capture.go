package audiohook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrCaptureClosed is returned by writes after the sink was closed.
var ErrCaptureClosed = errors.New("capture closed")

// captureBufferSize bounds how much audio sits in memory before reaching the
// file: about one second of stereo 8 kHz mu-law.
const captureBufferSize = 16 * 1024

// CaptureSink is an append-only destination for raw session audio.
type CaptureSink interface {
	io.Writer
	// Close flushes and releases the artifact. Calling it more than once is a no-op.
	Close() error
	// Path is the local artifact location.
	Path() string
}

// CaptureOpener creates capture artifacts by file name.
type CaptureOpener interface {
	OpenCapture(name string) (CaptureSink, error)
}

// FileCapturer creates capture files in a recordings directory.
type FileCapturer struct {
	dir string
}

// NewFileCapturer returns a FileCapturer writing into dir, creating it if needed.
func NewFileCapturer(dir string) (*FileCapturer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &FileCapturer{dir: dir}, nil
}

// Dir returns the recordings directory.
func (c *FileCapturer) Dir() string {
	return c.dir
}

// OpenCapture opens dir/name for appending.
func (c *FileCapturer) OpenCapture(name string) (CaptureSink, error) {
	path := filepath.Join(c.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	return &fileSink{f: f, w: bufio.NewWriterSize(f, captureBufferSize), path: path}, nil
}

type fileSink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	path   string
	closed bool
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrCaptureClosed
	}
	return s.w.Write(p)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	return errors.Join(flushErr, closeErr)
}

func (s *fileSink) Path() string {
	return s.path
}
