package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/nivest/pkg/audio"
	"github.com/MrWong99/nivest/pkg/provider/tts"
)

// ttsEntry is one synthesizer with the voice it should use.
type ttsEntry struct {
	provider tts.Provider
	voice    tts.VoiceProfile
}

// TTSFallback implements [tts.Provider] across several synthesizers. Each
// attempt gets the whole response text, and a stream that ends without any
// audio counts as a failure, so the next synthesizer is tried. Output is
// always converted to [audio.PipelineFormat] because entries may differ in
// rate and channel count.
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// synthesizer. The caller's voice profile is used for the primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(ttsEntry{provider: primary}, primaryName, cfg)}
}

// AddFallback registers a synthesizer tried after the ones already added.
// A voice with an empty ID uses the caller's profile.
func (f *TTSFallback) AddFallback(name string, p tts.Provider, voice tts.VoiceProfile) {
	f.group.AddFallback(name, ttsEntry{provider: p, voice: voice})
}

// Names returns the synthesizers in trial order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Format implements [tts.Provider].
func (f *TTSFallback) Format() audio.Format { return audio.PipelineFormat }

// SynthesizeStream gathers the text, then tries each synthesizer until one
// yields audio. Once audio flows, later failures are not retried.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var sb strings.Builder
	for s := range text {
		sb.WriteString(s)
	}
	full := sb.String()

	return ExecuteWithResult(ctx, f.group, func(e ttsEntry) (<-chan []byte, error) {
		v := voice
		if e.voice.ID != "" {
			v = e.voice
		}
		ch, err := e.provider.SynthesizeStream(ctx, tts.Text(full), v)
		if err != nil {
			return nil, err
		}
		first, ok := <-ch
		for ok && len(first) == 0 {
			first, ok = <-ch
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, tts.ErrNoAudio
		}
		return normalize(ctx, e.provider.Format(), first, ch), nil
	})
}

// normalize forwards first and the rest of in, converted to the pipeline
// format. It drains in when ctx ends so the producer can exit.
func normalize(ctx context.Context, f audio.Format, first []byte, in <-chan []byte) <-chan []byte {
	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		defer audio.Drain(in)
		pcm := first
		for {
			if f.Channels > 1 {
				pcm = audio.Downmix16(pcm, f.Channels)
			}
			pcm = audio.Resample16(pcm, 1, f.SampleRate, audio.SampleRate)
			if len(pcm) > 0 {
				select {
				case out <- pcm:
				case <-ctx.Done():
					return
				}
			}
			var ok bool
			if pcm, ok = <-in; !ok {
				return
			}
		}
	}()
	return out
}
