// Package speech provides device-local speech synthesis, the fallback voice
// used when remote synthesis is unavailable.
//
// A [Speaker] blocks until the utterance has finished playing; its return is
// the completion signal. Cancelling ctx interrupts speech immediately.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// ErrUnavailable is returned when no local synthesizer can be run.
var ErrUnavailable = errors.New("speech: local synthesizer unavailable")

// Speaker speaks text on the local audio device.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// TextPlaceholder marks where the utterance goes in a command line. When the
// command has no placeholder the text is appended as the final argument.
const TextPlaceholder = "{text}"

// DefaultCommand is espeak-ng at a conversational rate.
var DefaultCommand = []string{"espeak-ng", "-s", "165"}

// ExecSpeaker runs an external synthesizer such as espeak-ng, say or
// piper-based wrappers once per utterance.
type ExecSpeaker struct {
	argv []string
}

var _ Speaker = (*ExecSpeaker)(nil)

// NewExecSpeaker returns a Speaker running argv. An empty argv uses
// DefaultCommand.
func NewExecSpeaker(argv []string) *ExecSpeaker {
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	return &ExecSpeaker{argv: slices.Clone(argv)}
}

// Command returns the argv that would speak text.
func (s *ExecSpeaker) Command(text string) []string {
	argv := slices.Clone(s.argv)
	replaced := false
	for i, a := range argv {
		if strings.Contains(a, TextPlaceholder) {
			argv[i] = strings.ReplaceAll(a, TextPlaceholder, text)
			replaced = true
		}
	}
	if !replaced {
		argv = append(argv, text)
	}
	return argv
}

// Speak runs the synthesizer and waits for it to exit.
func (s *ExecSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	argv := s.Command(text)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Children of a killed shell may hold stderr open.
	cmd.WaitDelay = 250 * time.Millisecond
	err := cmd.Run()
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, argv[0], err)
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("speech: %s: %w: %s", argv[0], err, msg)
	}
	return fmt.Errorf("speech: %s: %w", argv[0], err)
}
