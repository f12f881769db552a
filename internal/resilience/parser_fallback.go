package resilience

import (
	"context"

	"github.com/MrWong99/nivest/pkg/provider/parser"
)

// ParserFallback implements [parser.Parser] by trying each configured parser
// once, in order. Only errors fail over; a nil result is a legitimate "could
// not parse" answer and is returned as is.
type ParserFallback struct {
	group *FallbackGroup[parser.Parser]
}

var _ parser.Parser = (*ParserFallback)(nil)

// NewParserFallback creates a [ParserFallback] with primary as the preferred
// parser.
func NewParserFallback(primary parser.Parser, primaryName string, cfg FallbackConfig) *ParserFallback {
	return &ParserFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a parser tried after the ones already added.
func (f *ParserFallback) AddFallback(name string, p parser.Parser) {
	f.group.AddFallback(name, p)
}

// Names returns the parsers in trial order.
func (f *ParserFallback) Names() []string { return f.group.Names() }

// Parse returns the first parser's answer that did not fail.
func (f *ParserFallback) Parse(ctx context.Context, text string) (*parser.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p parser.Parser) (*parser.Result, error) {
		return p.Parse(ctx, text)
	})
}
