// Package stream provides the in-memory tail buffer behind the live monitor
// endpoint. Relayed audio is appended as it fans out; monitor clients stream
// the retained tail plus everything written afterwards.
package stream

import (
	"context"
	"io"
	"sync"
)

// Buffer retains the most recent max bytes written to it and allows blocking
// readers that stream current contents and then wait for future writes.
type Buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	start  int64 // absolute stream offset of data[0]
	max    int
	closed bool
}

// NewBuffer creates a Buffer bounded at maxBytes.
func NewBuffer(maxBytes int) *Buffer {
	b := &Buffer{max: maxBytes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends data, discarding the oldest bytes once the bound is exceeded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		excess := len(b.data) - b.max
		b.data = b.data[excess:]
		b.start += int64(excess)
	}
	b.cond.Broadcast()
	return len(p), nil
}

// Close marks the buffer closed and wakes all readers; subsequent reads drain
// the retained tail and then return io.EOF.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// NewReader returns an io.ReadCloser positioned at the start of the retained
// tail. Reads block for new data until the buffer is closed or ctx is done.
func (b *Buffer) NewReader(ctx context.Context) io.ReadCloser {
	b.mu.Lock()
	pos := b.start
	b.mu.Unlock()

	// Wake blocked readers when the context ends; Read rechecks ctx after
	// every wakeup.
	go func() {
		<-ctx.Done()
		b.cond.Broadcast()
	}()

	return &reader{buf: b, ctx: ctx, pos: pos}
}

type reader struct {
	buf *Buffer
	ctx context.Context
	pos int64 // absolute stream offset of the next byte to read
}

func (r *reader) Read(p []byte) (int, error) {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()

	for {
		// Readers that fell behind the retained tail skip ahead.
		if r.pos < r.buf.start {
			r.pos = r.buf.start
		}

		end := r.buf.start + int64(len(r.buf.data))
		if r.pos < end {
			n := copy(p, r.buf.data[r.pos-r.buf.start:])
			r.pos += int64(n)
			return n, nil
		}

		if r.buf.closed {
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}

		r.buf.cond.Wait()
	}
}

func (r *reader) Close() error { return nil }
