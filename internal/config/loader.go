package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultEndpoint        = "ws://localhost:8000/ws"
	DefaultResponseTimeout = 30 * time.Second
	DefaultSampleRate      = 16000
	DefaultFrameSamples    = 4096
	DefaultLanguage        = "en"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"parser": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"openai", "elevenlabs"},
	"stt":    {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets resolves $VAR and ${VAR} references in API keys and the
// database DSN. Values not starting with $ are kept as written.
func expandSecrets(cfg *Config) {
	p := &cfg.Providers
	entries := []*ProviderEntry{&p.Parser, &p.TTS, &p.STT}
	for i := range p.ParserFallbacks {
		entries = append(entries, &p.ParserFallbacks[i])
	}
	for i := range p.TTSFallbacks {
		entries = append(entries, &p.TTSFallbacks[i])
	}
	for _, e := range entries {
		e.APIKey = expandEnv(e.APIKey)
	}
	cfg.Storage.PostgresDSN = expandEnv(cfg.Storage.PostgresDSN)
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	v := &cfg.Voice
	if v.Endpoint == "" {
		v.Endpoint = DefaultEndpoint
	}
	if v.Responder == "" {
		v.Responder = ResponderDispatch
	}
	if v.ResponseTimeout == 0 {
		v.ResponseTimeout = DefaultResponseTimeout
	}
	if v.SampleRate == 0 {
		v.SampleRate = DefaultSampleRate
	}
	if v.FrameSamples == 0 {
		v.FrameSamples = DefaultFrameSamples
	}
	if v.CaptureEncoding == "" {
		v.CaptureEncoding = "f32le"
	}
	if v.Language == "" {
		v.Language = DefaultLanguage
	}
	if v.UserPhone == "" {
		v.UserPhone = "anonymous"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Voice
	v := cfg.Voice
	if u, err := url.Parse(v.Endpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("voice.endpoint %q must be a ws:// or wss:// URL", v.Endpoint))
	}
	if !v.Responder.IsValid() {
		errs = append(errs, fmt.Errorf("voice.responder %q is invalid; valid values: dispatch, bot", v.Responder))
	}
	if v.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.response_timeout %s must not be negative", v.ResponseTimeout))
	}
	if v.SampleRate < 8000 || v.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d is out of range [8000, 192000]", v.SampleRate))
	}
	if v.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("voice.frame_samples %d must not be negative", v.FrameSamples))
	}
	if v.CaptureEncoding != "f32le" && v.CaptureEncoding != "s16le" {
		errs = append(errs, fmt.Errorf("voice.capture_encoding %q is invalid; valid values: f32le, s16le", v.CaptureEncoding))
	}

	// Providers
	validateProviderName("parser", cfg.Providers.Parser.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.ParserFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.parser_fallbacks[%d].name is required", i))
		}
		validateProviderName("parser", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if v.Responder == ResponderDispatch && cfg.Providers.Parser.Name == "" {
		errs = append(errs, errors.New("voice.responder dispatch requires providers.parser"))
	}

	// Availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is empty; speech is streamed to the bot but not recognized locally")
	}
	if cfg.Providers.TTS.Name == "" && cfg.Speech.Disabled {
		slog.Warn("no TTS provider and local speech disabled; text responses will not be spoken")
	}
	if cfg.Storage.PostgresDSN == "" && v.Responder == ResponderDispatch {
		slog.Warn("storage.postgres_dsn is empty; finance data is kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
