package audio

// RingBuffer is a fixed-capacity byte FIFO that overwrites the oldest data
// when full. It is not safe for concurrent use.
type RingBuffer struct {
	buf  []byte
	head int
	size int
}

func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, capacity)}
}

func (b *RingBuffer) Len() int { return b.size }
func (b *RingBuffer) Cap() int { return len(b.buf) }

// Write appends p and returns how many previously buffered (or leading p)
// bytes were discarded to make room.
func (b *RingBuffer) Write(p []byte) (dropped int) {
	capacity := len(b.buf)
	if capacity == 0 {
		return len(p)
	}

	if len(p) >= capacity {
		dropped = b.size + len(p) - capacity
		copy(b.buf, p[len(p)-capacity:])
		b.head = 0
		b.size = capacity
		return dropped
	}

	if over := b.size + len(p) - capacity; over > 0 {
		b.head = (b.head + over) % capacity
		b.size -= over
		dropped = over
	}

	tail := (b.head + b.size) % capacity
	n := copy(b.buf[tail:], p)
	if n < len(p) {
		copy(b.buf, p[n:])
	}
	b.size += len(p)
	return dropped
}

// Read moves up to len(p) bytes out of the buffer.
func (b *RingBuffer) Read(p []byte) int {
	n := min(len(p), b.size)
	if n == 0 {
		return 0
	}

	capacity := len(b.buf)
	first := copy(p[:n], b.buf[b.head:min(b.head+n, capacity)])
	if first < n {
		copy(p[first:n], b.buf[:n-first])
	}
	b.head = (b.head + n) % capacity
	b.size -= n
	if b.size == 0 {
		b.head = 0
	}
	return n
}

// Reset discards everything and returns the number of bytes dropped.
func (b *RingBuffer) Reset() int {
	n := b.size
	b.head = 0
	b.size = 0
	return n
}
