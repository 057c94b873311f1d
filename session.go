package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExportFilename is the name recordings are downloaded and saved under.
const ExportFilename = "test.webm"

// FallbackMimeType types a blob whose session negotiated no MIME type.
const FallbackMimeType = "video/webm"

// SessionState is the lifecycle state of a recording session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRecording
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRecording:
		return "recording"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Chunk is one piece of recorded container data.
type Chunk struct {
	Data []byte
	At   time.Time
}

// Size returns the chunk length in bytes.
func (c Chunk) Size() int { return len(c.Data) }

// Session is one recording, from start until the recorder reports it has
// flushed everything. Its chunk list only grows while recording.
type Session struct {
	id        string
	mimeType  string
	startedAt time.Time

	mu        sync.Mutex
	state     SessionState
	chunks    []Chunk
	size      int
	stoppedAt time.Time
	err       error
	done      chan struct{}
}

func newSession(id, mimeType string) *Session {
	return &Session{
		id:        id,
		mimeType:  mimeType,
		startedAt: time.Now(),
		state:     SessionRecording,
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) MimeType() string     { return s.mimeType }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StoppedAt returns when the session stopped, or the zero time.
func (s *Session) StoppedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt
}

// Err returns the error the recorder reported, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Chunks returns a copy of the chunk list.
func (s *Session) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Chunk, len(s.chunks))
	copy(res, s.chunks)
	return res
}

// Size returns the total recorded bytes.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Blob assembles the chunks in order into a blob typed with the session's
// MIME type.
func (s *Session) Blob() *Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	typ := s.mimeType
	if typ == "" {
		typ = FallbackMimeType
	}
	parts := make([][]byte, len(s.chunks))
	for i, c := range s.chunks {
		parts[i] = c.Data
	}
	return NewBlob(typ, parts)
}

// Export writes the recording to w in chunk order.
func (s *Session) Export(w io.Writer) (int64, error) {
	return s.Blob().WriteTo(w)
}

// appendChunk records data. Empty data and data arriving after stop are
// dropped. It reports whether the chunk was kept.
func (s *Session) appendChunk(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRecording {
		return false
	}
	s.chunks = append(s.chunks, Chunk{Data: data, At: time.Now()})
	s.size += len(data)
	return true
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// finish freezes the session. Only the first call has an effect.
func (s *Session) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return false
	}
	s.state = SessionStopped
	s.stoppedAt = time.Now()
	close(s.done)
	return true
}

// Blob is an immutable typed byte sequence made of ordered parts.
type Blob struct {
	Type  string
	parts [][]byte
	size  int64
}

// NewBlob creates a blob. The parts are not copied.
func NewBlob(typ string, parts [][]byte) *Blob {
	b := &Blob{Type: typ, parts: parts}
	for _, p := range parts {
		b.size += int64(len(p))
	}
	return b
}

// Size returns the blob length in bytes.
func (b *Blob) Size() int64 { return b.size }

// NewReader returns a reader over the blob contents.
func (b *Blob) NewReader() io.Reader {
	readers := make([]io.Reader, len(b.parts))
	for i, p := range b.parts {
		readers[i] = bytes.NewReader(p)
	}
	return io.MultiReader(readers...)
}

// Bytes returns the contents in one slice.
func (b *Blob) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, p := range b.parts {
		out = append(out, p...)
	}
	return out
}

// WriteTo implements io.WriterTo.
func (b *Blob) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, p := range b.parts {
		m, err := w.Write(p)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// SaveFile writes the blob to dir under ExportFilename and returns the path.
func (b *Blob) SaveFile(dir string) (string, error) {
	path := filepath.Join(dir, ExportFilename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("save recording: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("save recording: %w", err)
	}
	return path, nil
}
