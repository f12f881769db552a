// Package dispatch turns a finalized utterance into a finance side effect and
// a short spoken confirmation.
//
// The [Bridge] calls a [parser.Parser], applies the structured result to a
// [finance.Store] and logs exactly one [finance.Interaction] per call, on
// every path. Parser and store failures never escape as errors; they become
// one of the fixed response strings below so that the voice session always
// has something to say.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/nivest/internal/observe"
	"github.com/MrWong99/nivest/pkg/finance"
	"github.com/MrWong99/nivest/pkg/provider/parser"
)

// Fixed responses.
const (
	ResponseParseFailure = "Sorry, I couldn't understand that."
	ResponseUnknown      = "I understood, but I'm not sure what action to take."
	ResponseFailure      = "Something went wrong processing your command."
)

// Defaults applied to incomplete parser results.
const (
	DefaultCategory     = "General"
	DefaultDescription  = "Voice entry"
	DefaultGoalTitle    = "New Goal"
	DefaultGoalTarget   = 10000
	DefaultGoalIcon     = "savings"
	DefaultGoalColor    = "bg-green-500"
	intentParseFailure  = "parse_failure"
	intentDispatchError = "error"
)

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithCategories sets the known categories parsed categories are normalized
// against. Default: [DefaultCategories]. An empty list disables
// normalization.
func WithCategories(categories []string) Option {
	return func(b *Bridge) {
		b.categories = NewNormalizer(categories)
	}
}

// WithUserPhone sets the user tag written to interaction logs. Default:
// [finance.DefaultUserPhone].
func WithUserPhone(phone string) Option {
	return func(b *Bridge) {
		if phone != "" {
			b.userPhone = phone
		}
	}
}

// WithSnapshots enables saving a financial snapshot after every successful
// transaction or goal. Default: true.
func WithSnapshots(enabled bool) Option {
	return func(b *Bridge) {
		b.snapshots = enabled
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// Bridge is the command dispatch bridge. It is safe for concurrent use.
type Bridge struct {
	parser     parser.Parser
	store      finance.Store
	categories *Normalizer
	userPhone  string
	snapshots  bool
	metrics    *observe.Metrics
}

// New creates a Bridge over p and store.
func New(p parser.Parser, store finance.Store, opts ...Option) *Bridge {
	b := &Bridge{
		parser:     p,
		store:      store,
		categories: NewNormalizer(DefaultCategories),
		userPhone:  finance.DefaultUserPhone,
		snapshots:  true,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// outcome is the result of one dispatch before it is logged.
type outcome struct {
	response string
	context  map[string]any
	intent   string
	failed   bool
}

// Dispatch parses transcript, applies it and returns the response to speak.
// The returned error is always nil; it exists so that Dispatch can serve as
// a voice responder alongside responders that do fail.
func (b *Bridge) Dispatch(ctx context.Context, transcript string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "dispatch")
	defer span.End()
	start := time.Now()

	out := b.run(ctx, transcript)

	// The interaction is recorded even if the caller has given up waiting.
	logCtx := context.WithoutCancel(ctx)
	if err := b.store.LogInteraction(logCtx, finance.Interaction{
		Prompt:    transcript,
		Response:  out.response,
		UserPhone: b.userPhone,
		Context:   out.context,
	}); err != nil {
		observe.Logger(ctx).Warn("dispatch: log interaction failed", "err", err)
	}

	status := "ok"
	if out.failed {
		status = "error"
	}
	span.SetAttributes(attribute.String("intent", out.intent), attribute.String("status", status))
	b.metrics.RecordDispatch(ctx, out.intent, status, time.Since(start))

	return out.response, nil
}

func (b *Bridge) run(ctx context.Context, transcript string) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("dispatch: panic", "panic", r)
			out = failure()
		}
	}()

	res, err := b.parser.Parse(ctx, transcript)
	if err != nil {
		observe.Logger(ctx).Warn("dispatch: parse failed", "err", err)
	}
	if err != nil || res == nil {
		return outcome{
			response: ResponseParseFailure,
			context:  map[string]any{"intent": string(parser.IntentUnknown), "reason": intentParseFailure},
			intent:   intentParseFailure,
		}
	}

	switch res.Intent {
	case parser.IntentTransaction:
		return b.addTransaction(ctx, res)
	case parser.IntentGoal:
		return b.addGoal(ctx, res)
	default:
		return outcome{
			response: ResponseUnknown,
			context:  map[string]any{"intent": string(res.Intent), "details": res},
			intent:   string(parser.IntentUnknown),
		}
	}
}

func (b *Bridge) addTransaction(ctx context.Context, res *parser.Result) outcome {
	txType := finance.Expense
	if finance.TransactionType(res.Type) == finance.Income {
		txType = finance.Income
	}
	var amount float64
	if res.Amount != nil {
		amount = *res.Amount
	}
	category := DefaultCategory
	if res.Category != "" {
		category, _ = b.categories.Normalize(res.Category)
	}
	description := res.Description
	if description == "" {
		description = DefaultDescription
	}

	saved, err := b.store.AddTransaction(ctx, finance.Transaction{
		Type:        txType,
		Category:    category,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		observe.Logger(ctx).Error("dispatch: add transaction failed", "err", err)
		return failure()
	}

	details := map[string]any{
		"intent": string(parser.IntentTransaction),
		"transaction": map[string]any{
			"amount":   saved.Amount,
			"category": saved.Category,
			"type":     string(saved.Type),
		},
	}
	if snap, ok := b.snapshot(ctx, "transaction-added"); ok {
		details["totals"] = map[string]any{
			"income":   snap.MonthlyIncome,
			"expenses": snap.TotalExpenses,
		}
	}

	return outcome{
		response: fmt.Sprintf("Added %s of ₹%s for %s", saved.Type, formatAmount(saved.Amount), saved.Category),
		context:  details,
		intent:   string(parser.IntentTransaction),
	}
}

func (b *Bridge) addGoal(ctx context.Context, res *parser.Result) outcome {
	title := res.Description
	if title == "" {
		title = DefaultGoalTitle
	}
	target := float64(DefaultGoalTarget)
	if res.TargetAmount != nil && *res.TargetAmount > 0 {
		target = *res.TargetAmount
	}

	saved, err := b.store.AddGoal(ctx, finance.Goal{
		Title:        title,
		TargetAmount: target,
		Icon:         DefaultGoalIcon,
		Color:        DefaultGoalColor,
	})
	if err != nil {
		observe.Logger(ctx).Error("dispatch: add goal failed", "err", err)
		return failure()
	}
	b.snapshot(ctx, "goal-added")

	return outcome{
		response: "Created goal: " + saved.Title,
		context: map[string]any{
			"intent": string(parser.IntentGoal),
			"goal":   saved.Title,
			"target": saved.TargetAmount,
		},
		intent: string(parser.IntentGoal),
	}
}

// snapshot summarizes the store, saving the result when snapshots are
// enabled. Failures are logged and reported as !ok; they never fail the
// command that triggered them.
func (b *Bridge) snapshot(ctx context.Context, reason string) (finance.Snapshot, bool) {
	var (
		snap finance.Snapshot
		err  error
	)
	if b.snapshots {
		snap, err = finance.Capture(ctx, b.store, reason)
	} else {
		snap, err = finance.Current(ctx, b.store)
	}
	if err != nil {
		slog.Warn("dispatch: snapshot failed", "reason", reason, "err", err)
		return finance.Snapshot{}, false
	}
	return snap, true
}

func failure() outcome {
	return outcome{
		response: ResponseFailure,
		context:  map[string]any{"error": true},
		intent:   intentDispatchError,
		failed:   true,
	}
}

// formatAmount renders 500 as "500" and 99.5 as "99.5".
func formatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}
