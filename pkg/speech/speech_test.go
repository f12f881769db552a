package speech_test

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/nivest/pkg/speech"
)

func TestExecSpeaker_Command(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		argv []string
		want []string
	}{
		{"default appends", nil, []string{"espeak-ng", "-s", "165", "hello"}},
		{"placeholder", []string{"say", "-v", "Veena", "{text}"}, []string{"say", "-v", "Veena", "hello"}},
		{"embedded placeholder", []string{"sh", "-c", "echo '{text}'"}, []string{"sh", "-c", "echo 'hello'"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := speech.NewExecSpeaker(tt.argv).Command("hello")
			if !slices.Equal(got, tt.want) {
				t.Errorf("Command = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecSpeaker_MissingBinary(t *testing.T) {
	t.Parallel()
	s := speech.NewExecSpeaker([]string{"nivest-no-such-synth"})
	if err := s.Speak(context.Background(), "hi"); !errors.Is(err, speech.ErrUnavailable) {
		t.Fatalf("Speak = %v, want ErrUnavailable", err)
	}
}

func TestExecSpeaker_CancelInterrupts(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s := speech.NewExecSpeaker([]string{"sh", "-c", "sleep 5 # {text}"})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Speak(ctx, "")
	if err != nil {
		t.Fatalf("empty text should be a no-op, got %v", err)
	}
	err = s.Speak(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Speak = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("cancellation did not interrupt the synthesizer")
	}
}
