package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// ringCapacity bounds how many formatted entries the operator dump can
// hold before the oldest are overwritten.
const ringCapacity = 100

// Ring keeps the most recent formatted log entries for the operator
// RPC surface.
type Ring struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

// NewRing constructs a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	return &Ring{
		entries: make([]string, capacity),
	}
}

// add records an entry, overwriting the oldest once full.
func (r *Ring) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Peek returns the retained entries, oldest first.
func (r *Ring) Peek() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.entries[:r.next])
		return out
	}

	out := make([]string, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)

	return out
}

// =============================================================================

// ringCore is a zapcore.Core that renders entries with the console
// encoder and appends them to the ring.
type ringCore struct {
	zapcore.LevelEnabler
	enc  zapcore.Encoder
	ring *Ring
}

func newRingCore(ring *Ring, enab zapcore.LevelEnabler, encCfg zapcore.EncoderConfig) zapcore.Core {
	return &ringCore{
		LevelEnabler: enab,
		enc:          zapcore.NewConsoleEncoder(encCfg),
		ring:         ring,
	}
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &ringCore{
		LevelEnabler: c.LevelEnabler,
		enc:          c.enc.Clone(),
		ring:         c.ring,
	}
	for i := range fields {
		fields[i].AddTo(clone.enc)
	}
	return clone
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.ring.add(strings.TrimRight(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *ringCore) Sync() error {
	return nil
}
