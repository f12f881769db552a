package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/nivest/pkg/provider/parser"
)

func startGeminiServer(t *testing.T, modelText string, gotBody chan<- map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash:generateContent") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if gotBody != nil {
			gotBody <- body
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": modelText}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParse_Transaction(t *testing.T) {
	t.Parallel()
	bodies := make(chan map[string]any, 1)
	srv := startGeminiServer(t, `{"intent":"transaction","type":"expense","amount":500,"category":"Food"}`, bodies)

	p, err := New(context.Background(), "test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := p.Parse(context.Background(), "Spent 500 on food")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Intent != parser.IntentTransaction || r.Category != "Food" || *r.Amount != 500 {
		t.Errorf("result = %+v", r)
	}

	body := <-bodies
	gen, _ := body["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", gen["responseMimeType"])
	}
	if _, ok := gen["responseSchema"]; !ok {
		t.Error("request carries no response schema")
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Error("request carries no system instruction")
	}
}

func TestParse_InvalidOutput(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, `not json`, nil)
	p, _ := New(context.Background(), "k", WithBaseURL(srv.URL))
	if _, err := p.Parse(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for invalid model output")
	}
}

func TestResponseSchema_RequiresIntentAndType(t *testing.T) {
	t.Parallel()
	if got := strings.Join(responseSchema.Required, ","); got != "intent,type" {
		t.Errorf("required = %q", got)
	}
	if len(responseSchema.Properties) != 6 {
		t.Errorf("properties = %d, want 6", len(responseSchema.Properties))
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), ""); err == nil {
		t.Error("expected error for empty key")
	}
}
