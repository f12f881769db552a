// Package parser defines the Provider interface for natural-language finance
// command parsers.
//
// A parser turns a finalized utterance such as "spent 500 on food" into a
// structured [Result]. Parsers are black boxes backed by an LLM; they are
// allowed to fail, and callers treat a nil result exactly like an error.
//
// Implementations must be safe for concurrent use.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Intent classifies a parsed command.
type Intent string

const (
	IntentTransaction Intent = "transaction"
	IntentGoal        Intent = "goal"
	IntentUnknown     Intent = "unknown"
)

// ErrInvalidOutput reports model output that is not a usable Result.
var ErrInvalidOutput = errors.New("parser: invalid model output")

// Result is the structured form of one command. Optional numeric fields are
// pointers so that "missing" and "zero" stay distinguishable.
type Result struct {
	Intent       Intent   `json:"intent"`
	Type         string   `json:"type,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	Category     string   `json:"category,omitempty"`
	Description  string   `json:"description,omitempty"`
	TargetAmount *float64 `json:"targetAmount,omitempty"`
}

// Parser is the abstraction over any command parser.
type Parser interface {
	// Parse classifies text. A nil Result with a nil error is a valid "could
	// not parse" answer.
	Parse(ctx context.Context, text string) (*Result, error)
}

// SystemInstruction is the prompt shared by every LLM-backed parser.
const SystemInstruction = `You are a financial data parser for the Nivest app.
Your goal is to extract financial transaction details or goal details from natural language input.
The user might speak in English, Hinglish, or Hindi.

Output JSON strictly adhering to the schema.
If the input is about spending money, type is 'expense'.
If the input is about receiving money, type is 'income'.
If the input is about saving for something, type is 'goal'.`

// JSONInstruction extends SystemInstruction for backends without a schema
// parameter.
const JSONInstruction = SystemInstruction + `

Respond with a single JSON object and nothing else, using these keys:
"intent" ("transaction", "goal" or "unknown"), "type" ("income", "expense" or "goal"),
"amount" (number), "category" (string), "description" (string),
"targetAmount" (number, only for goals). "intent" and "type" are required.`

// Decode parses raw model output into a Result. Markdown code fences around
// the JSON are tolerated. Empty output decodes to a nil Result.
func Decode(raw string) (*Result, error) {
	raw = stripFence(strings.TrimSpace(raw))
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	r.Intent = Intent(strings.ToLower(strings.TrimSpace(string(r.Intent))))
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if r.Intent == "" {
		return nil, fmt.Errorf("%w: missing intent", ErrInvalidOutput)
	}
	return &r, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
