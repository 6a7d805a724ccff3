package audio

import "time"

const (
	// DefaultSampleRate is the rate the realtime service accepts and emits
	// for pcm16 audio.
	DefaultSampleRate = 24000
	DefaultFormat     = "linear16"
	DefaultChannels   = 1

	// DefaultFrameDuration is the capture cadence.
	DefaultFrameDuration = 20 * time.Millisecond
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: EncodingLinear16, Channels: DefaultChannels}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	Channels   int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerSample returns the size of one sample frame across all channels.
func (e EncodingInfo) BytesPerSample() int {
	return e.Format.ByteSize() * e.channels()
}

// FrameSize returns the number of bytes covering d of audio.
func (e EncodingInfo) FrameSize(d time.Duration) int {
	samples := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return samples * e.BytesPerSample()
}

// Duration returns how much audio n bytes hold.
func (e EncodingInfo) Duration(n int) time.Duration {
	bps := e.BytesPerSample()
	if bps <= 0 || e.SampleRate <= 0 {
		return 0
	}
	samples := int64(n / bps)
	return time.Duration(samples * int64(time.Second) / int64(e.SampleRate))
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	case EncodingLinear16:
		return 0
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
