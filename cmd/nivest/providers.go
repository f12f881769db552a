package main

import (
	"context"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/nivest/internal/config"
	"github.com/MrWong99/nivest/pkg/provider/parser"
	"github.com/MrWong99/nivest/pkg/provider/parser/anyllm"
	"github.com/MrWong99/nivest/pkg/provider/parser/gemini"
	oaparser "github.com/MrWong99/nivest/pkg/provider/parser/openai"
	"github.com/MrWong99/nivest/pkg/provider/stt"
	"github.com/MrWong99/nivest/pkg/provider/stt/deepgram"
	"github.com/MrWong99/nivest/pkg/provider/tts"
	"github.com/MrWong99/nivest/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/nivest/pkg/provider/tts/openai"
)

// anyllmParsers are the parser backends served through any-llm-go. They
// share one pattern: optional APIKey and optional BaseURL.
var anyllmParsers = []string{"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// ctx bounds client construction for providers that need it.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Parser ────────────────────────────────────────────────────────────────

	reg.RegisterParser("gemini", func(entry config.ProviderEntry) (parser.Parser, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		p, err := gemini.New(ctx, entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterParser("openai", func(entry config.ProviderEntry) (parser.Parser, error) {
		var opts []oaparser.Option
		if entry.Model != "" {
			opts = append(opts, oaparser.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaparser.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oaparser.WithTimeout(d))
		}
		p, err := oaparser.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range anyllmParsers {
		reg.RegisterParser(providerName, func(entry config.ProviderEntry) (parser.Parser, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterParser("ollama", func(entry config.ProviderEntry) (parser.Parser, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if d, ok := optDuration(entry.Options, "endpointing"); ok {
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, oatts.WithTimeout(d))
		}
		p, err := oatts.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f := config.OptString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// optDuration reads a duration option given as a string ("10s") or a number
// of seconds.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	if s := config.OptString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		return d, err == nil && d > 0
	}
	if f, ok := config.OptFloat(opts, key); ok && f > 0 {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}
