// Package gemini provides a command parser backed by Google Gemini structured
// output. The response schema constrains the model to the [parser.Result]
// shape, so no prompt-level JSON instructions are needed.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/nivest/pkg/provider/parser"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Parser implements parser.Parser using the Gemini API.
type Parser struct {
	client *genai.Client
	model  string
}

type config struct {
	baseURL string
	model   string
}

// Option is a functional option for Parser.
type Option func(*config)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a Gemini parser.
func New(ctx context.Context, apiKey string, opts ...Option) (*Parser, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}
	return &Parser{client: client, model: cfg.model}, nil
}

var _ parser.Parser = (*Parser)(nil)

// responseSchema mirrors parser.Result.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent":       {Type: genai.TypeString, Enum: []string{"transaction", "goal", "unknown"}},
		"type":         {Type: genai.TypeString, Enum: []string{"income", "expense", "goal"}},
		"amount":       {Type: genai.TypeNumber},
		"category":     {Type: genai.TypeString},
		"description":  {Type: genai.TypeString},
		"targetAmount": {Type: genai.TypeNumber, Description: "Only for goals"},
	},
	Required: []string{"intent", "type"},
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, text string) (*parser.Result, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(parser.SystemInstruction)}},
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema,
		})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}
	r, err := parser.Decode(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return r, nil
}
