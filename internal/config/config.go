// Package config provides the configuration schema, loader, and provider registry
// for the Nivest voice assistant.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Nivest server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Responder selects how a finalized utterance is answered.
type Responder string

const (
	// ResponderDispatch parses the utterance locally and applies it to the
	// finance store.
	ResponderDispatch Responder = "dispatch"

	// ResponderBot forwards the utterance to the voice bot and speaks its
	// streamed answer.
	ResponderBot Responder = "bot"
)

// IsValid reports whether r is a recognised responder.
func (r Responder) IsValid() bool {
	return r == ResponderDispatch || r == ResponderBot
}

// Config is the root configuration structure for Nivest.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Speech    SpeechConfig    `yaml:"speech"`
}

// ServerConfig holds network and logging settings for the HTTP control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is the only setting applied on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// VoiceConfig configures the voice session: the bot connection, the audio
// devices and the command dispatch.
type VoiceConfig struct {
	// Endpoint is the voice bot WebSocket URL.
	Endpoint string `yaml:"endpoint"`

	// Responder selects dispatch (local parse and store) or bot answers.
	Responder Responder `yaml:"responder"`

	// KeepOpen returns the session to listening after each response.
	// Nil means true.
	KeepOpen *bool `yaml:"keep_open"`

	// ResponseTimeout bounds the wait for an answer (e.g., "30s").
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// SampleRate is the rate the capture command records at.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per outbound frame.
	FrameSamples int `yaml:"frame_samples"`

	// CaptureCommand records raw samples to stdout (e.g., arecord).
	CaptureCommand []string `yaml:"capture_command"`

	// CaptureEncoding is the sample layout of the capture command: f32le or s16le.
	CaptureEncoding string `yaml:"capture_encoding"`

	// PlaybackCommand plays 16 kHz mono s16le from stdin (e.g., aplay).
	PlaybackCommand []string `yaml:"playback_command"`

	// Categories are the canonical expense categories spoken names snap to.
	Categories []string `yaml:"categories"`

	// Language is the recognition language passed to the STT provider.
	Language string `yaml:"language"`

	// Keywords are boosted during recognition, usually category names.
	Keywords []string `yaml:"keywords"`

	// UserPhone tags interaction log rows.
	UserPhone string `yaml:"user_phone"`

	// Snapshots persists a financial snapshot after every store write.
	// Nil means true.
	Snapshots *bool `yaml:"snapshots"`
}

// KeepOpenEnabled reports the effective keep-open setting.
func (v VoiceConfig) KeepOpenEnabled() bool { return v.KeepOpen == nil || *v.KeepOpen }

// SnapshotsEnabled reports the effective snapshot setting.
func (v VoiceConfig) SnapshotsEnabled() bool { return v.Snapshots == nil || *v.Snapshots }

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
// Fallback lists are tried in order when the primary fails.
type ProvidersConfig struct {
	Parser          ProviderEntry   `yaml:"parser"`
	ParserFallbacks []ProviderEntry `yaml:"parser_fallbacks"`
	TTS             ProviderEntry   `yaml:"tts"`
	TTSFallbacks    []ProviderEntry `yaml:"tts_fallbacks"`
	STT             ProviderEntry   `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.5-flash").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier. TTS only.
	Voice string `yaml:"voice"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects the finance store.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty keeps data in
	// memory for the lifetime of the process.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SpeechConfig configures the device-local speech fallback.
type SpeechConfig struct {
	// Command is the synthesizer argv; "{text}" is replaced by the utterance
	// or the text is appended.
	Command []string `yaml:"command"`

	// Disabled turns the local fallback off.
	Disabled bool `yaml:"disabled"`
}
