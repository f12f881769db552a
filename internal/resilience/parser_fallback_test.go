package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/nivest/pkg/provider/parser"
	parsermock "github.com/MrWong99/nivest/pkg/provider/parser/mock"
)

func TestParserFallback_PrimaryAnswers(t *testing.T) {
	primary := &parsermock.Parser{Result: &parser.Result{Intent: parser.IntentTransaction, Type: "expense", Amount: parsermock.Float(200), Category: "Food"}}
	secondary := &parsermock.Parser{Result: &parser.Result{Intent: parser.IntentGoal}}

	fb := NewParserFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res, err := fb.Parse(context.Background(), "spent 200 on food")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Intent != parser.IntentTransaction || *res.Amount != 200 {
		t.Errorf("result = %+v", res)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestParserFallback_ErrorFailsOver(t *testing.T) {
	primary := &parsermock.Parser{Err: errors.New("503 unavailable")}
	secondary := &parsermock.Parser{Result: &parser.Result{Intent: parser.IntentGoal, Description: "bike", TargetAmount: parsermock.Float(50000)}}

	fb := NewParserFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res, err := fb.Parse(context.Background(), "save 50000 for a bike")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Intent != parser.IntentGoal || res.Description != "bike" {
		t.Errorf("result = %+v", res)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
	if got := secondary.Calls[0]; got != "save 50000 for a bike" {
		t.Errorf("secondary text = %q", got)
	}
}

func TestParserFallback_NilResultIsAnAnswer(t *testing.T) {
	primary := &parsermock.Parser{}
	secondary := &parsermock.Parser{Result: &parser.Result{Intent: parser.IntentTransaction}}

	fb := NewParserFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res, err := fb.Parse(context.Background(), "hmm")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if secondary.CallCount() != 0 {
		t.Error("a nil result must not fail over")
	}
}

func TestParserFallback_AllFail(t *testing.T) {
	fb := NewParserFallback(&parsermock.Parser{Err: errTest}, "gemini", FallbackConfig{})
	fb.AddFallback("openai", &parsermock.Parser{Err: errTest})

	_, err := fb.Parse(context.Background(), "spent 10")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got := fb.Names(); len(got) != 2 || got[1] != "openai" {
		t.Errorf("Names = %v", got)
	}
}
