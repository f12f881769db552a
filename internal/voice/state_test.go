package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state  State
		want   string
		active bool
	}{
		{Idle, "idle", false},
		{Connecting, "connecting", true},
		{Listening, "listening", true},
		{Processing, "processing", true},
		{Playing, "playing", true},
		{Error, "error", false},
		{State(42), "unknown", true},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
		if got := tt.state.Active(); got != tt.active {
			t.Errorf("%s.Active() = %v, want %v", tt.want, got, tt.active)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Status{State: Listening, SessionID: "abc", Strategy: StrategyBot, KeepOpen: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"state":"listening","sessionId":"abc","strategy":"bot","keepOpen":true}`
	if string(b) != want {
		t.Errorf("json = %s, want %s", b, want)
	}
}

func TestErrorReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("voice: %w", ErrPermissionDenied), "permission_denied"},
		{fmt.Errorf("voice: %w", ErrDeviceUnavailable), "device_unavailable"},
		{fmt.Errorf("voice: connect: %w", ErrConnectFailed), "connect_failed"},
		{fmt.Errorf("voice: %w: closed", ErrTransport), "transport"},
		{ErrResponseTimeout, "response_timeout"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := errorReason(tt.err); got != tt.want {
			t.Errorf("errorReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
