// Package mock provides a test double for the parser.Parser interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/nivest/pkg/provider/parser"
)

// Parser is a mock implementation of parser.Parser.
type Parser struct {
	mu sync.Mutex

	// Result is returned by Parse. A nil Result models "could not parse".
	Result *parser.Result

	// Err, if non-nil, is returned by Parse.
	Err error

	// Panic, if non-empty, makes Parse panic with this value.
	Panic string

	// ParseFunc, if set, overrides Result and Err.
	ParseFunc func(ctx context.Context, text string) (*parser.Result, error)

	// Calls records every text passed to Parse.
	Calls []string
}

// Parse records the call and returns the configured outcome.
func (p *Parser) Parse(ctx context.Context, text string) (*parser.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, text)
	res, err, fn, pv := p.Result, p.Err, p.ParseFunc, p.Panic
	p.mu.Unlock()

	if pv != "" {
		panic(pv)
	}
	if fn != nil {
		return fn(ctx, text)
	}
	if res != nil {
		cp := *res
		res = &cp
	}
	return res, err
}

// CallCount returns the number of Parse calls. Thread-safe.
func (p *Parser) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Float returns a pointer to v, for building Results in tests.
func Float(v float64) *float64 { return &v }

var _ parser.Parser = (*Parser)(nil)
