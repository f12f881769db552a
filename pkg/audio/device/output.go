package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/MrWong99/nivest/pkg/audio"
)

const defaultQuantum = 20 * time.Millisecond

// DefaultPlaybackCommand plays 16 kHz mono s16le from stdin on the default
// ALSA device.
var DefaultPlaybackCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1"}

// RendererOption configures a [Renderer].
type RendererOption func(*Renderer)

// WithQuantum sets the render block length. Default: 20 ms.
func WithQuantum(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.quantum = d
		}
	}
}

// WithSampleRate sets the output sample rate. Default: 16 kHz.
func WithSampleRate(rate int) RendererOption {
	return func(r *Renderer) {
		if rate > 0 {
			r.rate = rate
		}
	}
}

// Renderer is an [audio.Output] that mixes scheduled voices into fixed-size
// render quanta of mono s16le. Its clock is the number of samples rendered so
// far, so buffers scheduled back to back are contiguous in the rendered
// stream regardless of wall-clock jitter. Completion is reported up to one
// quantum ahead of the audible end.
//
// Render drives the clock explicitly (tests, offline rendering); Run drives it
// in real time and writes every quantum to a sink.
type Renderer struct {
	rate    int
	quantum time.Duration

	mu       sync.Mutex
	rendered int64 // samples
	voices   []*voice
}

var _ audio.Output = (*Renderer)(nil)

// NewRenderer creates a Renderer at 16 kHz with 20 ms quanta.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{rate: audio.SampleRate, quantum: defaultQuantum}
	for _, o := range opts {
		o(r)
	}
	return r
}

type voice struct {
	r        *Renderer
	start    int64 // absolute sample position
	samples  []float32
	ended    func()
	notified bool
}

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	for i, other := range v.r.voices {
		if other == v {
			v.r.voices = append(v.r.voices[:i], v.r.voices[i+1:]...)
			return
		}
	}
}

// Now implements [audio.Output].
func (r *Renderer) Now() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.SamplesDuration(int(r.rendered), r.rate)
}

// Start implements [audio.Output]. Positions in the past start at the next
// rendered sample.
func (r *Renderer) Start(samples []float32, at time.Duration, ended func()) audio.Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := max(audio.DurationSamples(at, r.rate), r.rendered)
	v := &voice{r: r, start: start, samples: samples, ended: ended}
	r.voices = append(r.voices, v)
	return v
}

// Active returns the number of scheduled voices that have not ended.
func (r *Renderer) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voices)
}

// QuantumSamples returns the number of samples produced per Render call.
func (r *Renderer) QuantumSamples() int {
	return int(audio.DurationSamples(r.quantum, r.rate))
}

// Render mixes the next quantum and advances the clock.
//
// Voices that end inside the quantum have their ended callbacks invoked before
// it is mixed, with the renderer's lock released and the clock still at the
// quantum's start. A successor scheduled from the callback at the predecessor's
// end therefore lands in the same quantum, sample-exact.
func (r *Renderer) Render() []byte {
	n := r.QuantumSamples()
	mix := make([]float32, n)

	r.mu.Lock()
	from := r.rendered
	to := from + int64(n)
	for {
		var due []*voice
		for _, v := range r.voices {
			if !v.notified && v.end() <= to {
				v.notified = true
				due = append(due, v)
			}
		}
		if len(due) == 0 {
			break
		}
		r.mu.Unlock()
		for _, v := range due {
			if v.ended != nil {
				v.ended()
			}
		}
		r.mu.Lock()
	}

	kept := r.voices[:0]
	for _, v := range r.voices {
		lo := max(v.start, from)
		hi := min(v.end(), to)
		for pos := lo; pos < hi; pos++ {
			mix[pos-from] += v.samples[pos-v.start]
		}
		if v.end() > to {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(r.voices); i++ {
		r.voices[i] = nil
	}
	r.voices = kept
	r.rendered = to
	r.mu.Unlock()

	return audio.EncodePCM16(mix)
}

// Run renders one quantum per quantum of wall-clock time and writes it to w
// until ctx is cancelled or a write fails.
func (r *Renderer) Run(ctx context.Context, w io.Writer) error {
	ticker := time.NewTicker(r.quantum)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Write(r.Render()); err != nil {
				return fmt.Errorf("device: write quantum: %w", err)
			}
		}
	}
}

// ── Player ──────────────────────────────────────────────────────────────────

// SinkOpener starts a playback sink for the given command line.
type SinkOpener func(argv []string) (io.WriteCloser, error)

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithSinkOpener replaces how the player process is started. Default:
// [OpenExecSink].
func WithSinkOpener(open SinkOpener) PlayerOption {
	return func(p *Player) {
		if open != nil {
			p.open = open
		}
	}
}

// WithRenderer sets the renderer the player drives. Default: [NewRenderer].
func WithRenderer(r *Renderer) PlayerOption {
	return func(p *Player) {
		if r != nil {
			p.Renderer = r
		}
	}
}

// Player is a [Renderer] that owns its sink only while acquired. Acquire
// starts the player command and a real-time render loop; Release kills the
// command and stops the loop. While released the clock stands still and
// scheduled voices wait.
type Player struct {
	*Renderer
	argv []string
	open SinkOpener

	mu     sync.Mutex
	sink   io.WriteCloser
	cancel context.CancelFunc
}

var (
	_ audio.Output   = (*Player)(nil)
	_ audio.Acquirer = (*Player)(nil)
)

// NewPlayer creates a released Player. An empty argv uses
// [DefaultPlaybackCommand].
func NewPlayer(argv []string, opts ...PlayerOption) *Player {
	p := &Player{
		Renderer: NewRenderer(),
		argv:     argv,
		open:     func(argv []string) (io.WriteCloser, error) { return OpenExecSink(argv) },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Acquire implements [audio.Acquirer]. The render loop ends with ctx or
// Release, whichever comes first.
func (p *Player) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink != nil {
		return nil
	}
	sink, err := p.open(p.argv)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(ctx)
	p.sink, p.cancel = sink, cancel
	go func() {
		if err := p.Run(rctx, sink); err != nil && rctx.Err() == nil {
			slog.Warn("device: playback stopped", "err", err)
		}
	}()
	return nil
}

// Release implements [audio.Acquirer]. It does not wait for the render loop,
// which may be delivering an ended callback.
func (p *Player) Release() {
	p.mu.Lock()
	sink, cancel := p.sink, p.cancel
	p.sink, p.cancel = nil, nil
	p.mu.Unlock()
	if sink == nil {
		return
	}
	cancel()
	if err := sink.Close(); err != nil {
		slog.Warn("device: close playback sink", "err", err)
	}
}

// Held reports whether the sink is open.
func (p *Player) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// ── ExecSink ────────────────────────────────────────────────────────────────

// ExecSink is an io.WriteCloser that pipes rendered PCM into an external
// player's stdin.
type ExecSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
}

// OpenExecSink starts the player. An empty argv uses [DefaultPlaybackCommand].
func OpenExecSink(argv []string) (*ExecSink, error) {
	if len(argv) == 0 {
		argv = DefaultPlaybackCommand
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("device: playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("device: start %s: %w", argv[0], classifyExecError(err))
	}
	slog.Debug("playback sink started", "command", argv[0])
	return &ExecSink{cmd: cmd, stdin: stdin}, nil
}

// Write implements io.Writer.
func (s *ExecSink) Write(p []byte) (int, error) { return s.stdin.Write(p) }

// Close stops the player. Safe to call more than once.
func (s *ExecSink) Close() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}
