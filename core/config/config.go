package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-realtime/core/protocol"
	"github.com/koscakluka/ema-realtime/core/transport"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "EMA_REALTIME"

	DefaultModel    = "gpt-4o-realtime-preview-2025-06-03"
	DefaultEndpoint = "wss://api.openai.com/v1/realtime"

	BackendMiniaudio = "miniaudio"
	BackendPortaudio = "portaudio"

	TurnModeServerVAD = protocol.TurnDetectionServerVAD
	TurnModeManual    = "manual"
)

var ErrMissingCredential = errors.New("missing credential")

type Config struct {
	Model string `mapstructure:"model" jsonschema:"description=Realtime model appended to the default endpoint"`
	// Endpoint overrides the websocket URL built from Model.
	Endpoint string `mapstructure:"endpoint" jsonschema:"description=Full websocket URL; overrides model"`
	// CredentialEnv names the environment variable holding the API key.
	CredentialEnv string `mapstructure:"credential_env"`
	Credential    string `mapstructure:"-"`

	AudioBackend       string `mapstructure:"audio_backend" jsonschema:"enum=miniaudio,enum=portaudio"`
	AllowInterruptions bool   `mapstructure:"allow_interruptions"`

	Session    SessionConfig    `mapstructure:"session"`
	Greeting   GreetingConfig   `mapstructure:"greeting"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
}

// SessionConfig is sent to the server each time it opens a session.
type SessionConfig struct {
	Modalities              []string   `mapstructure:"modalities"`
	Instructions            string     `mapstructure:"instructions"`
	Voice                   string     `mapstructure:"voice" jsonschema:"enum=alloy,enum=shimmer,enum=ash,enum=ballad,enum=coral,enum=echo,enum=sage,enum=verse"`
	InputAudioFormat        string     `mapstructure:"input_audio_format"`
	OutputAudioFormat       string     `mapstructure:"output_audio_format"`
	TranscriptionModel      string     `mapstructure:"transcription_model"`
	NoiseReduction          string     `mapstructure:"noise_reduction" jsonschema:"enum=near_field,enum=far_field,enum=none"`
	Temperature             float64    `mapstructure:"temperature"`
	MaxResponseOutputTokens int        `mapstructure:"max_response_output_tokens"`
	Turn                    TurnConfig `mapstructure:"turn_detection"`
}

type TurnConfig struct {
	Mode              string  `mapstructure:"mode" jsonschema:"enum=server_vad,enum=manual"`
	Threshold         float64 `mapstructure:"threshold"`
	PrefixPaddingMS   int     `mapstructure:"prefix_padding_ms"`
	SilenceDurationMS int     `mapstructure:"silence_duration_ms"`
	InterruptResponse bool    `mapstructure:"interrupt_response"`
	CreateResponse    bool    `mapstructure:"create_response"`
}

type GreetingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Instructions string `mapstructure:"instructions"`
}

type TransportConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	QueueSize        int           `mapstructure:"queue_size"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	Retry            RetryConfig   `mapstructure:"reconnect"`
}

type RetryConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type AudioConfig struct {
	PlaybackBuffer time.Duration `mapstructure:"playback_buffer"`
	CaptureFrames  int           `mapstructure:"capture_frames"`
	DeviceRate     int           `mapstructure:"device_rate" jsonschema:"description=Device sample rate for the portaudio backend"`
}

type TranscriptConfig struct {
	Limit int `mapstructure:"limit"`
	Trim  int `mapstructure:"trim"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `mapstructure:"format" jsonschema:"enum=text,enum=json"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", DefaultModel)
	v.SetDefault("endpoint", "")
	v.SetDefault("credential_env", "OPENAI_API_KEY")
	v.SetDefault("audio_backend", BackendMiniaudio)
	v.SetDefault("allow_interruptions", true)

	v.SetDefault("session.modalities", []string{protocol.ModalityText, protocol.ModalityAudio})
	v.SetDefault("session.instructions", "You are a helpful AI assistant. Respond naturally and conversationally. Always respond in the same language as the user.")
	v.SetDefault("session.voice", "alloy")
	v.SetDefault("session.input_audio_format", protocol.AudioFormatPCM16)
	v.SetDefault("session.output_audio_format", protocol.AudioFormatPCM16)
	v.SetDefault("session.transcription_model", "whisper-1")
	v.SetDefault("session.noise_reduction", "far_field")
	v.SetDefault("session.temperature", 0.8)
	v.SetDefault("session.max_response_output_tokens", 4096)
	v.SetDefault("session.turn_detection.mode", TurnModeServerVAD)
	v.SetDefault("session.turn_detection.threshold", 0.5)
	v.SetDefault("session.turn_detection.prefix_padding_ms", 300)
	v.SetDefault("session.turn_detection.silence_duration_ms", 200)
	v.SetDefault("session.turn_detection.interrupt_response", true)
	v.SetDefault("session.turn_detection.create_response", true)

	v.SetDefault("greeting.enabled", true)
	v.SetDefault("greeting.instructions", "You are a helpful AI assistant. Respond naturally and conversationally, start with a very short but enthusiastic and playful greeting in English, the greeting must not exceed 3 words")

	d := transport.DefaultConfig()
	v.SetDefault("transport.handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("transport.write_timeout", d.WriteTimeout)
	v.SetDefault("transport.ping_interval", d.PingInterval)
	v.SetDefault("transport.queue_size", d.QueueSize)
	v.SetDefault("transport.event_buffer", d.EventBuffer)
	v.SetDefault("transport.reconnect.initial", d.Reconnect.Initial)
	v.SetDefault("transport.reconnect.max", d.Reconnect.Max)
	v.SetDefault("transport.reconnect.multiplier", d.Reconnect.Multiplier)
	v.SetDefault("transport.reconnect.jitter", d.Reconnect.Jitter)
	v.SetDefault("transport.reconnect.max_attempts", d.Reconnect.MaxAttempts)

	v.SetDefault("audio.playback_buffer", 2*time.Minute)
	v.SetDefault("audio.capture_frames", 32)
	v.SetDefault("audio.device_rate", 48000)

	v.SetDefault("transcript.limit", 500)
	v.SetDefault("transcript.trim", 200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("http.addr", "127.0.0.1:8089")
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"model":         "model",
	"endpoint":      "endpoint",
	"audio-backend": "audio_backend",
	"voice":         "session.voice",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"http-addr":     "http.addr",
}

// Load reads defaults, then the file at path (if any), then EMA_REALTIME_*
// environment variables, then flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		if manual, err := flags.GetBool("manual-turns"); err == nil && manual {
			v.Set("session.turn_detection.mode", TurnModeManual)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Credential = os.Getenv(cfg.CredentialEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.AudioBackend {
	case BackendMiniaudio, BackendPortaudio:
	default:
		errs = append(errs, fmt.Errorf("audio_backend must be %q or %q, got %q", BackendMiniaudio, BackendPortaudio, c.AudioBackend))
	}
	switch c.Session.Turn.Mode {
	case TurnModeServerVAD, TurnModeManual:
	default:
		errs = append(errs, fmt.Errorf("session.turn_detection.mode must be %q or %q, got %q", TurnModeServerVAD, TurnModeManual, c.Session.Turn.Mode))
	}
	if c.Session.Turn.Threshold < 0 || c.Session.Turn.Threshold > 1 {
		errs = append(errs, fmt.Errorf("session.turn_detection.threshold must be within [0, 1], got %v", c.Session.Turn.Threshold))
	}
	if c.Endpoint == "" && strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model or endpoint is required"))
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("endpoint must be a ws:// or wss:// URL, got %q", c.Endpoint))
		}
	}
	if c.Transport.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("transport.reconnect.max_attempts must not be negative"))
	}
	if c.Transcript.Limit <= 0 || c.Transcript.Trim <= 0 || c.Transcript.Trim > c.Transcript.Limit {
		errs = append(errs, fmt.Errorf("transcript.trim must be within (0, limit], got limit=%d trim=%d", c.Transcript.Limit, c.Transcript.Trim))
	}
	return errors.Join(errs...)
}

// RequireCredential fails when the credential variable was empty.
func (c Config) RequireCredential() error {
	if strings.TrimSpace(c.Credential) == "" {
		return fmt.Errorf("%w: set %s", ErrMissingCredential, c.CredentialEnv)
	}
	return nil
}

// EndpointURL is the websocket URL to dial.
func (c Config) EndpointURL() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return DefaultEndpoint + "?model=" + url.QueryEscape(c.Model)
}

// SessionUpdate builds the session object sent after session.created.
func (c Config) SessionUpdate() (protocol.SessionConfig, error) {
	var out protocol.SessionConfig
	if err := copier.Copy(&out, &c.Session); err != nil {
		return protocol.SessionConfig{}, fmt.Errorf("map session config: %w", err)
	}

	if c.Session.TranscriptionModel != "" {
		out.InputAudioTranscription = &protocol.InputAudioTranscription{Model: c.Session.TranscriptionModel}
	}
	if c.Session.NoiseReduction != "" && c.Session.NoiseReduction != "none" {
		out.InputAudioNoiseReduction = &protocol.NoiseReduction{Type: c.Session.NoiseReduction}
	}
	if c.Session.Turn.Mode == TurnModeServerVAD {
		interrupt, create := c.Session.Turn.InterruptResponse, c.Session.Turn.CreateResponse
		out.TurnDetection = &protocol.TurnDetection{
			Type:              protocol.TurnDetectionServerVAD,
			Threshold:         c.Session.Turn.Threshold,
			PrefixPaddingMS:   c.Session.Turn.PrefixPaddingMS,
			SilenceDurationMS: c.Session.Turn.SilenceDurationMS,
			InterruptResponse: &interrupt,
			CreateResponse:    &create,
		}
	}
	out.ToolChoice = "none"
	return out, nil
}

// GreetingResponse is the response.create sent when a conversation starts,
// or nil when greetings are disabled.
func (c Config) GreetingResponse() *protocol.ResponseConfig {
	if !c.Greeting.Enabled {
		return nil
	}
	return &protocol.ResponseConfig{
		Modalities:        c.Session.Modalities,
		Instructions:      c.Greeting.Instructions,
		Voice:             c.Session.Voice,
		OutputAudioFormat: c.Session.OutputAudioFormat,
		Temperature:       c.Session.Temperature,
		MaxOutputTokens:   c.Session.MaxResponseOutputTokens,
	}
}

// TransportConfig builds the websocket channel settings, including the
// header that opts into the realtime beta protocol.
func (c Config) TransportConfig() (transport.Config, error) {
	out := transport.DefaultConfig()
	if err := copier.Copy(&out, &c.Transport); err != nil {
		return transport.Config{}, fmt.Errorf("map transport config: %w", err)
	}
	if err := copier.Copy(&out.Reconnect, &c.Transport.Retry); err != nil {
		return transport.Config{}, fmt.Errorf("map reconnect config: %w", err)
	}
	out.Headers = http.Header{}
	out.Headers.Set("OpenAI-Beta", "realtime=v1")
	return out, nil
}

// Schema returns the JSON Schema of the config file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		FieldNameTag:   "mapstructure",
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "ema-realtime configuration"
	return json.MarshalIndent(schema, "", "  ")
}
