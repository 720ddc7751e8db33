package archive

import "sync"

// Buffer is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full, up to maxCapacity. A full buffer evicts its oldest item.
type Buffer[T any] struct {
	mu          sync.Mutex
	buf         []T
	head        int // read position
	count       int
	maxCapacity int
	closed      bool
	ready       chan struct{}

	// Stats
	totalReceived int64
	totalDrained  int64
	dropped       int64
	resizeCount   int
}

// NewBuffer creates a buffer with the given initial and maximum capacity.
// maxCapacity <= 0 means unbounded.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		initialCapacity = maxCapacity
	}
	return &Buffer[T]{
		buf:         make([]T, initialCapacity),
		maxCapacity: maxCapacity,
		ready:       make(chan struct{}, 1),
	}
}

// Send appends an item. It reports whether an older item was evicted to
// make room. Sends to a closed buffer are ignored and return false.
func (b *Buffer[T]) Send(item T) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := max((len(b.buf)*70)/100, 1)
	if b.count+1 >= threshold && b.canGrow() {
		b.grow()
	}

	if b.count == len(b.buf) {
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
		b.count--
		b.dropped++
		evicted = true
	}

	b.buf[(b.head+b.count)%len(b.buf)] = item
	b.count++
	b.totalReceived++

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Ready is signalled after a Send. Receivers should Drain once woken; a
// single signal may cover many sends.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Drain removes and returns up to n items in FIFO order. n <= 0 drains all.
func (b *Buffer[T]) Drain(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n <= 0 || n > b.count {
		n = b.count
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.totalDrained += int64(n)
	return out
}

// Close stops accepting items. Buffered items can still be drained.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the current number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      len(b.buf),
		TotalReceived: b.totalReceived,
		TotalDrained:  b.totalDrained,
		Dropped:       b.dropped,
		ResizeCount:   b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalDrained  int64
	Dropped       int64
	ResizeCount   int
}

func (b *Buffer[T]) canGrow() bool {
	return b.maxCapacity <= 0 || len(b.buf) < b.maxCapacity
}

// grow doubles the capacity, clamped to maxCapacity. Must be called with
// lock held.
func (b *Buffer[T]) grow() {
	newCapacity := len(b.buf) * 2
	if b.maxCapacity > 0 && newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}
	newBuf := make([]T, newCapacity)

	// Unwrap [head...end) + [0...tail) into [0...count)
	n := copy(newBuf, b.buf[b.head:min(b.head+b.count, len(b.buf))])
	if n < b.count {
		copy(newBuf[n:], b.buf[:b.count-n])
	}

	b.buf = newBuf
	b.head = 0
	b.resizeCount++
}
