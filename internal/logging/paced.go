package logging

import (
	"io"
	"sync"
	"time"
)

// DefaultPace is the pause taken before each diagnostic write. Reports are
// produced while the target is failing; pacing lets the host drain its
// own output between lines.
const DefaultPace = time.Millisecond

// PacedWriter delays before every write to the wrapped writer. Writes are
// serialized so concurrent callers never interleave within a line.
type PacedWriter struct {
	mu    sync.Mutex
	w     io.Writer
	pause time.Duration
	sleep func(time.Duration)
}

// NewPacedWriter wraps w. A non-positive pause disables pacing.
func NewPacedWriter(w io.Writer, pause time.Duration) *PacedWriter {
	return &PacedWriter{w: w, pause: pause, sleep: time.Sleep}
}

// Write implements io.Writer.
func (p *PacedWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pause > 0 {
		p.sleep(p.pause)
	}
	return p.w.Write(b)
}
