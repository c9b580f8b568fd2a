package log

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DefaultRecorderCapacity is used for non-positive capacities.
const DefaultRecorderCapacity = 500

// Recorder is an [io.Writer] that keeps the most recent log lines in a
// fixed-size ring. It is safe for concurrent use. Partial lines are held
// back until their newline arrives.
type Recorder struct {
	lines   []string
	partial bytes.Buffer
	head    int
	size    int
	dropped int
	mu      sync.RWMutex
}

// NewRecorder creates a [Recorder] holding up to capacity lines.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}

	return &Recorder{lines: make([]string, capacity)}
}

// Write records every complete line of p.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)

	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			// Put the incomplete line back.
			r.partial.Reset()
			r.partial.WriteString(line)

			break
		}

		r.push(strings.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

func (r *Recorder) push(line string) {
	if line == "" {
		return
	}

	if r.size == len(r.lines) {
		r.dropped++
	} else {
		r.size++
	}

	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
}

// Lines returns the recorded lines, oldest first.
func (r *Recorder) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, r.size)
	start := (r.head - r.size + len(r.lines)) % len(r.lines)

	for i := range r.size {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}

	return out
}

// Tail returns up to n of the most recent lines containing match, oldest
// first. An empty match keeps every line; n <= 0 returns all matches.
func (r *Recorder) Tail(n int, match string) []string {
	var out []string
	for _, line := range r.Lines() {
		if match == "" || strings.Contains(line, match) {
			out = append(out, line)
		}
	}

	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}

	return out
}

// Len returns the number of recorded lines.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the maximum number of recorded lines.
func (r *Recorder) Cap() int {
	return len(r.lines)
}

// Dropped returns how many lines were overwritten since the last reset.
func (r *Recorder) Dropped() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.dropped
}

// Reset removes every recorded line.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.lines)
	r.partial.Reset()
	r.head, r.size, r.dropped = 0, 0, 0
}

// WriteTo writes the recorded lines to w, one per line.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, line := range r.Lines() {
		n, err := io.WriteString(w, line+"\n")
		total += int64(n)

		if err != nil {
			return total, fmt.Errorf("write log line: %w", err)
		}
	}

	return total, nil
}
