package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/nivest/internal/config"
	"github.com/MrWong99/nivest/internal/resilience"
	"github.com/MrWong99/nivest/pkg/provider/parser"
	"github.com/MrWong99/nivest/pkg/provider/stt"
	"github.com/MrWong99/nivest/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	Parser parser.Parser
	STT    stt.Provider
	TTS    tts.Provider
}

// BuildProviders instantiates every provider named in cfg through reg. When
// fallbacks are configured the primary is wrapped in a
// [resilience.ParserFallback] or [resilience.TTSFallback]. A fallback that
// fails to construct is skipped with a warning; a primary that fails is an
// error.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}
	fbCfg := resilience.FallbackConfig{
		OnFailure: func(name string, err error) {
			slog.Warn("provider attempt failed", "provider", name, "err", err)
		},
	}

	if entry := cfg.Providers.Parser; entry.Name != "" {
		primary, err := reg.CreateParser(entry)
		if err != nil {
			return nil, fmt.Errorf("app: parser %q: %w", entry.Name, err)
		}
		p.Parser = primary
		if len(cfg.Providers.ParserFallbacks) > 0 {
			fb := resilience.NewParserFallback(primary, entry.Name, fbCfg)
			for _, e := range cfg.Providers.ParserFallbacks {
				alt, err := reg.CreateParser(e)
				if err != nil {
					slog.Warn("skipping parser fallback", "name", e.Name, "err", err)
					continue
				}
				fb.AddFallback(e.Name, alt)
			}
			p.Parser = fb
			slog.Info("parser failover enabled", "order", fb.Names())
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: tts %q: %w", entry.Name, err)
		}
		p.TTS = primary
		if len(cfg.Providers.TTSFallbacks) > 0 {
			fb := resilience.NewTTSFallback(primary, entry.Name, fbCfg)
			for _, e := range cfg.Providers.TTSFallbacks {
				alt, err := reg.CreateTTS(e)
				if err != nil {
					slog.Warn("skipping tts fallback", "name", e.Name, "err", err)
					continue
				}
				fb.AddFallback(e.Name, alt, tts.VoiceProfile{ID: e.Voice, Provider: e.Name})
			}
			p.TTS = fb
			slog.Info("tts failover enabled", "order", fb.Names())
		}
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		s, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: stt %q: %w", entry.Name, err)
		}
		p.STT = s
	}

	return p, nil
}
