package audio

// FramePool hands out pre-sized byte buffers without blocking, so it can be
// used from a device callback.
type FramePool struct {
	free chan []byte
	size int
}

func NewFramePool(count, size int) *FramePool {
	p := &FramePool{free: make(chan []byte, count), size: size}
	for range count {
		p.free <- make([]byte, size)
	}
	return p
}

// BufferSize is the capacity of every buffer in the pool.
func (p *FramePool) BufferSize() int { return p.size }

// Available reports how many buffers are currently free.
func (p *FramePool) Available() int { return len(p.free) }

// NewFrame copies data into a pooled buffer. It returns false when the pool
// is exhausted or data does not fit, in which case the caller drops the
// audio.
func (p *FramePool) NewFrame(seq uint64, direction Direction, data []byte) (Frame, bool) {
	if len(data) > p.size {
		return Frame{}, false
	}

	select {
	case buf := <-p.free:
		n := copy(buf[:p.size], data)
		return Frame{Seq: seq, Direction: direction, Data: buf[:n], pool: p}, true
	default:
		return Frame{}, false
	}
}

func (p *FramePool) put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	select {
	case p.free <- buf[:p.size]:
	default:
	}
}
