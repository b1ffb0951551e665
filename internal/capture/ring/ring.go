// Package ring provides a fixed-capacity byte buffer that overwrites its
// oldest contents once full.
package ring

import "sync"

// Buffer keeps the most recent Cap() bytes written to it, in order.
// It is safe for one writer and any number of concurrent readers.
type Buffer struct {
	mu      sync.RWMutex
	buf     []byte
	start   int   // index of the oldest byte
	n       int   // bytes currently stored
	written int64 // bytes ever appended
}

// New creates a Buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Append adds p at the tail, evicting from the head when full.
func (b *Buffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.written += int64(len(p))
	size := len(b.buf)
	if size == 0 || len(p) == 0 {
		return
	}

	// Only the last size bytes of an oversized chunk can survive.
	if len(p) >= size {
		copy(b.buf, p[len(p)-size:])
		b.start = 0
		b.n = size
		return
	}

	end := (b.start + b.n) % size
	first := copy(b.buf[end:], p)
	copy(b.buf, p[first:])

	b.n += len(p)
	if b.n > size {
		b.start = (b.start + b.n - size) % size
		b.n = size
	}
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Snapshot returns a copy of the current contents, oldest first.
func (b *Buffer) Snapshot() []byte {
	return b.TruncatedView(0)
}

// TruncatedView returns a copy of the contents without the newest n bytes.
// The result is empty when n covers everything stored.
func (b *Buffer) TruncatedView(n int) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	keep := b.n - n
	if keep <= 0 {
		return []byte{}
	}

	out := make([]byte, keep)
	size := len(b.buf)
	first := copy(out, b.buf[b.start:min(b.start+keep, size)])
	copy(out[first:], b.buf[:keep-first])
	return out
}

// Len is the number of bytes currently stored.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Cap is the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Written is the total number of bytes ever appended, evicted or not.
func (b *Buffer) Written() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.written
}
