package protocol

const (
	AudioFormatPCM16 = "pcm16"

	TurnDetectionServerVAD = "server_vad"

	ModalityText  = "text"
	ModalityAudio = "audio"
)

// SessionConfig is the session object carried by session.update.
type SessionConfig struct {
	Modalities               []string                 `json:"modalities,omitempty"`
	Instructions             string                   `json:"instructions,omitempty"`
	Voice                    string                   `json:"voice,omitempty"`
	InputAudioFormat         string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat        string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription  *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	InputAudioNoiseReduction *NoiseReduction          `json:"input_audio_noise_reduction,omitempty"`
	// TurnDetection is always sent; null switches the server to manual
	// commits.
	TurnDetection           *TurnDetection `json:"turn_detection"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
	MaxResponseOutputTokens int            `json:"max_response_output_tokens,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

type NoiseReduction struct {
	Type string `json:"type"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
}

// ResponseConfig overrides session defaults for a single response.create.
type ResponseConfig struct {
	Modalities        []string `json:"modalities,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	MaxOutputTokens   int      `json:"max_output_tokens,omitempty"`
}
