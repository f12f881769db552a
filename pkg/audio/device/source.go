// Package device provides concrete capture sources and playback outputs for
// the voice pipeline.
//
// Capture and playback are delegated to external programs (arecord/aplay by
// default) that speak raw PCM over pipes, which keeps the binary free of cgo
// while still holding the device only for the lifetime of a stream.
package device

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os/exec"
	"strings"
	"sync"

	"github.com/MrWong99/nivest/pkg/audio"
)

// SampleEncoding names the raw sample layout a source produces.
type SampleEncoding string

const (
	// EncodingFloat32 is little-endian IEEE-754 float32 samples.
	EncodingFloat32 SampleEncoding = "f32le"

	// EncodingInt16 is little-endian signed 16-bit samples.
	EncodingInt16 SampleEncoding = "s16le"
)

// bytesPerSample returns the width of one sample.
func (e SampleEncoding) bytesPerSample() int {
	if e == EncodingInt16 {
		return 2
	}
	return 4
}

// DefaultCaptureCommand records 16 kHz mono float samples from the default
// ALSA device.
var DefaultCaptureCommand = []string{"arecord", "-q", "-t", "raw", "-f", "FLOAT_LE", "-r", "16000", "-c", "1"}

// ── ExecSource ──────────────────────────────────────────────────────────────

// ExecSource captures audio by running an external recorder and reading raw
// samples from its stdout. The device is held for as long as the process runs.
type ExecSource struct {
	// Command is the program and arguments. Defaults to [DefaultCaptureCommand].
	Command []string

	// Encoding of the samples on stdout. Defaults to [EncodingFloat32].
	Encoding SampleEncoding

	// Format the recorder was told to produce. Defaults to 16 kHz mono.
	Format audio.Format
}

var _ audio.Source = (*ExecSource)(nil)

// Open starts the recorder. A missing binary maps to
// [audio.ErrDeviceUnavailable] and an exec permission error to
// [audio.ErrPermissionDenied].
func (s *ExecSource) Open(_ context.Context) (audio.Stream, error) {
	argv := s.Command
	if len(argv) == 0 {
		argv = DefaultCaptureCommand
	}
	format := s.Format
	if format.SampleRate == 0 {
		format = audio.PipelineFormat
	}
	enc := s.Encoding
	if enc == "" {
		enc = EncodingFloat32
	}

	// The process must outlive Open's context; Close owns its lifetime.
	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("device: capture pipe: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("device: start %s: %w", argv[0], classifyExecError(err))
	}

	return &execStream{
		cmd:    cmd,
		r:      newSampleReader(bufio.NewReaderSize(stdout, 16*1024), enc),
		stderr: stderr,
		format: format,
	}, nil
}

type execStream struct {
	cmd    *exec.Cmd
	r      *sampleReader
	stderr *lockedBuffer
	format audio.Format

	once     sync.Once
	closeErr error
	closed   bool
	mu       sync.Mutex
}

func (s *execStream) Format() audio.Format { return s.format }

func (s *execStream) Read(p []float32) (int, error) {
	n, err := s.r.Read(p)
	if err == nil {
		return n, nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return n, err
	}
	// The recorder exited on its own: surface why.
	msg := strings.ToLower(s.stderr.String())
	switch {
	case strings.Contains(msg, "permission denied"):
		return n, fmt.Errorf("device: recorder: %w", audio.ErrPermissionDenied)
	case errors.Is(err, io.EOF) || strings.Contains(msg, "no such"):
		return n, fmt.Errorf("device: recorder exited: %w", audio.ErrDeviceUnavailable)
	}
	return n, err
}

func (s *execStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		// Wait reaps the process and closes the stdout pipe, unblocking Read.
		if err := s.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

// classifyExecError maps process start failures onto the audio error taxonomy.
func classifyExecError(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	return err
}

// ── ReaderSource ────────────────────────────────────────────────────────────

// ReaderSource captures from an arbitrary reader of raw samples, such as a
// file or a pipe. The reader is consumed once; a second Open returns
// [audio.ErrDeviceUnavailable].
type ReaderSource struct {
	R        io.Reader
	Encoding SampleEncoding
	Format   audio.Format

	mu   sync.Mutex
	used bool
}

var _ audio.Source = (*ReaderSource)(nil)

// Open implements [audio.Source].
func (s *ReaderSource) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used || s.R == nil {
		return nil, fmt.Errorf("device: reader source: %w", audio.ErrDeviceUnavailable)
	}
	s.used = true
	format := s.Format
	if format.SampleRate == 0 {
		format = audio.PipelineFormat
	}
	enc := s.Encoding
	if enc == "" {
		enc = EncodingFloat32
	}
	return &readerStream{r: newSampleReader(s.R, enc), src: s.R, format: format}, nil
}

type readerStream struct {
	r      *sampleReader
	src    io.Reader
	format audio.Format

	mu     sync.Mutex
	closed bool
}

func (s *readerStream) Format() audio.Format { return s.format }

func (s *readerStream) Read(p []float32) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return s.r.Read(p)
}

func (s *readerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ── sample decoding ─────────────────────────────────────────────────────────

// sampleReader decodes raw little-endian samples into floats, carrying partial
// samples across reads.
type sampleReader struct {
	r   io.Reader
	enc SampleEncoding
	buf []byte
}

func newSampleReader(r io.Reader, enc SampleEncoding) *sampleReader {
	return &sampleReader{r: r, enc: enc}
}

func (sr *sampleReader) Read(p []float32) (int, error) {
	width := sr.enc.bytesPerSample()
	need := len(p) * width
	if cap(sr.buf) < need {
		sr.buf = make([]byte, need)
	}
	buf := sr.buf[:need]
	n, err := io.ReadAtLeast(sr.r, buf, width)
	if n < width {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return 0, err
	}
	// Read the remainder of a split sample so the stream stays aligned.
	if rem := n % width; rem != 0 {
		if _, rerr := io.ReadFull(sr.r, buf[n:n+width-rem]); rerr != nil {
			n -= rem
		} else {
			n += width - rem
		}
	}
	count := n / width
	for i := range count {
		b := buf[i*width:]
		if sr.enc == EncodingInt16 {
			p[i] = audio.Dequantize(int16(binary.LittleEndian.Uint16(b)))
		} else {
			p[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	return count, nil
}

// lockedBuffer collects a subprocess's stderr.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 4096 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
