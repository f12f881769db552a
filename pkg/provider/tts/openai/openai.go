// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
//
// The endpoint synthesizes one request per text fragment and streams raw
// 24 kHz mono int16 PCM back in the HTTP response body.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/nivest/pkg/audio"
	"github.com/MrWong99/nivest/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = oai.SpeechModelGPT4oMiniTTS

	// DefaultVoice is the voice used when the profile carries no ID.
	DefaultVoice = "alloy"

	// sampleRate is fixed by the API for the pcm response format.
	sampleRate = 24000

	// readChunk is 100 ms of 24 kHz mono int16.
	readChunk = 4800
)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g. "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: string(DefaultModel)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

var _ tts.Provider = (*Provider)(nil)

// Format reports 24 kHz mono int16 PCM.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: sampleRate, Channels: 1}
}

// SynthesizeStream issues one speech request per text fragment, in order, and
// forwards each response body as it arrives. The first request is made
// before returning so that authentication and quota errors surface as an
// error instead of an empty stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = DefaultVoice
	}

	var first string
	for first == "" {
		select {
		case s, ok := <-text:
			if !ok {
				out := make(chan []byte)
				close(out)
				return out, nil
			}
			first = strings.TrimSpace(s)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := p.speak(ctx, first, voiceID)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		if !p.forward(ctx, resp, out) {
			return
		}
		for s := range text {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			resp, err := p.speak(ctx, s, voiceID)
			if err != nil {
				slog.Warn("openai tts: synthesis failed mid-stream", "err", err)
				return
			}
			if !p.forward(ctx, resp, out) {
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, input, voice string) (*http.Response, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          input,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	return resp, nil
}

// forward copies resp.Body to out in fixed-size chunks. It reports false when
// the stream should stop.
func (p *Provider) forward(ctx context.Context, resp *http.Response, out chan<- []byte) bool {
	defer resp.Body.Close()
	buf := make([]byte, readChunk)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		// Keep whole samples; a trailing odd byte is dropped.
		if n &^= 1; n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return false
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return true
		default:
			if ctx.Err() == nil {
				slog.Warn("openai tts: read body", "err", err)
			}
			return false
		}
	}
}
