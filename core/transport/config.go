package transport

import (
	"math/rand/v2"
	"net/http"
	"time"
)

type Config struct {
	// HandshakeTimeout bounds dialing plus waiting for the first server
	// event.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// QueueSize is the number of outbound messages that may wait for the
	// writer before Send starts failing with ErrQueueFull.
	QueueSize   int
	EventBuffer int
	// Headers are sent with every upgrade request next to the credential.
	Headers http.Header

	Reconnect Backoff
}

// Backoff is an exponential reconnect schedule.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter      float64
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
		QueueSize:        256,
		EventBuffer:      256,
		Reconnect: Backoff{
			Initial:     250 * time.Millisecond,
			Max:         5 * time.Second,
			Multiplier:  2,
			Jitter:      0.2,
			MaxAttempts: 5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Reconnect.Initial <= 0 {
		c.Reconnect.Initial = d.Reconnect.Initial
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		c.Reconnect.Max = max(d.Reconnect.Max, c.Reconnect.Initial)
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		c.Reconnect.Jitter = 0
	}
	if c.Reconnect.MaxAttempts < 0 {
		c.Reconnect.MaxAttempts = 0
	}
	return c
}

func (b Backoff) next(delay time.Duration) time.Duration {
	return min(time.Duration(float64(delay)*b.Multiplier), b.Max)
}

func (b Backoff) jittered(delay time.Duration) time.Duration {
	if b.Jitter == 0 {
		return delay
	}
	f := 1 + b.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * f)
}
