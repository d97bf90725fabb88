// Package tailbuffer keeps the most recent lines written to it.
package tailbuffer

import (
	"bytes"
	"sync"
)

// Buffer is an io.Writer that retains the last capacity complete lines.
// A trailing partial line is held until its newline arrives.
type Buffer struct {
	lock     sync.Mutex
	lines    []string
	capacity int
	// next is the ring index of the next line to overwrite.
	next    int
	full    bool
	partial []byte
}

// New creates a buffer holding at most capacity lines. A capacity below one
// is treated as one.
func New(capacity int) *Buffer {
	capacity = max(capacity, 1)
	return &Buffer{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			b.partial = append(b.partial, rest...)
			break
		}
		line := string(b.partial) + string(rest[:i])
		b.partial = b.partial[:0]
		b.push(line)
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (b *Buffer) push(line string) {
	b.lines[b.next] = line
	b.next++
	if b.next == b.capacity {
		b.next = 0
		b.full = true
	}
}

// Len returns the number of complete lines retained.
func (b *Buffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.full {
		return b.capacity
	}
	return b.next
}

// Tail returns up to n of the most recent complete lines, oldest first. A
// non-positive n returns every retained line.
func (b *Buffer) Tail(n int) []string {
	b.lock.Lock()
	defer b.lock.Unlock()

	size := b.next
	start := 0
	if b.full {
		size = b.capacity
		start = b.next
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, b.lines[(start+i)%b.capacity])
	}
	return out
}
