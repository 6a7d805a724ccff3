package audio

import "sync/atomic"

type Direction uint8

const (
	DirectionCapture Direction = iota + 1
	DirectionPlayback
)

func (d Direction) String() string {
	switch d {
	case DirectionCapture:
		return "capture"
	case DirectionPlayback:
		return "playback"
	}
	return "unknown"
}

// Frame is a chunk of linear16 mono audio at the default sample rate.
//
// Frames travel by value. A frame built from a FramePool borrows its Data
// buffer; the last holder calls Release exactly once after it no longer
// reads Data.
type Frame struct {
	Seq       uint64
	Direction Direction
	Data      []byte

	pool *FramePool
}

func NewFrame(seq uint64, direction Direction, data []byte) Frame {
	return Frame{Seq: seq, Direction: direction, Data: data}
}

func (f Frame) Release() {
	if f.pool != nil {
		f.pool.put(f.Data)
	}
}

// Stats counts device-side anomalies. Safe for concurrent use.
type Stats struct {
	overruns  atomic.Uint64
	underruns atomic.Uint64
	dropped   atomic.Uint64
}

func (s *Stats) AddOverrun()          { s.overruns.Add(1) }
func (s *Stats) AddUnderrun()         { s.underruns.Add(1) }
func (s *Stats) AddDropped(n int)     { s.dropped.Add(uint64(n)) }
func (s *Stats) Overruns() uint64     { return s.overruns.Load() }
func (s *Stats) Underruns() uint64    { return s.underruns.Load() }
func (s *Stats) DroppedBytes() uint64 { return s.dropped.Load() }
