// Package recovery turns classified failures into usable results where any
// fallback exists: a stale cache entry, static defaults, or one more try
// against the upstream.
package recovery

import (
	"context"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
)

// ErrorInfo describes a classified failure handed to the engine.
type ErrorInfo struct {
	Kind       faults.Kind
	Context    string
	Message    string
	HTTPStatus int
}

// Options carries the material a strategy may fall back on. All fields are
// optional; a strategy that finds nothing to work with reports failure and
// the engine moves on.
type Options struct {
	// CacheKey is the request signature of the failed fetch.
	CacheKey string

	// CacheFamily widens the stale search to the resource family when the
	// exact key has nothing usable.
	CacheFamily string

	// MaxStaleAge bounds how old a fallback cache entry may be.
	MaxStaleAge time.Duration

	// Defaults is the static last-resort value, e.g. an empty feed.
	Defaults interface{}

	// Retry re-invokes the original operation once; nil when the caller
	// has already exhausted its retry budget.
	Retry func(ctx context.Context) (interface{}, error)
}

// Outcome is a single strategy's verdict.
type Outcome struct {
	Success bool
	Data    interface{}
	Stale   bool
}

// StrategyFunc attempts to produce a usable result despite a failure.
// Implementations must be side-effect-free apart from reads.
type StrategyFunc func(ctx context.Context, info ErrorInfo, opts Options) Outcome

// Attempt records one strategy execution for the error log.
type Attempt struct {
	Strategy string
	Success  bool
}

// Result is the engine's overall verdict for one failure.
type Result struct {
	// Attempted is false when the attempt counter was already exhausted
	// and recovery was skipped entirely.
	Attempted bool
	Success   bool
	Strategy  string // winning strategy, empty on failure
	Data      interface{}
	Stale     bool
	Attempts  []Attempt
}

// Engine runs the ordered recovery strategies registered for each error
// kind, bounded by the per-signature attempt counter.
type Engine struct {
	strategies map[string]StrategyFunc
	counter    *AttemptCounter
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// EngineConfig holds engine construction parameters.
type EngineConfig struct {
	AttemptCap int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewEngine creates an engine with an empty strategy registry.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		strategies: make(map[string]StrategyFunc),
		counter:    NewAttemptCounter(cfg.AttemptCap),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Register binds a strategy name to its implementation. Kind metadata
// references strategies by these names.
func (e *Engine) Register(name string, fn StrategyFunc) {
	e.strategies[name] = fn
}

// StrategiesFor returns the ordered, registered strategy names for a kind.
// Names listed in the taxonomy but not registered are omitted.
func (e *Engine) StrategiesFor(kind faults.Kind) []string {
	var names []string
	for _, name := range kind.RecoveryStrategies() {
		if _, ok := e.strategies[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Counter exposes the attempt counter for admin clearing.
func (e *Engine) Counter() *AttemptCounter { return e.counter }

// Recover tries each strategy registered for the failure's kind, in order,
// returning on the first success. The (kind, context) attempt counter is
// checked first: an exhausted signature surfaces the raw error untouched.
func (e *Engine) Recover(ctx context.Context, info ErrorInfo, opts Options) Result {
	if e.counter.Exhausted(info.Kind, info.Context) {
		if e.logger != nil {
			e.logger.LogWarn(ctx, "recovery skipped: attempt cap reached",
				"kind", string(info.Kind),
				"context", info.Context,
			)
		}
		return Result{Attempted: false}
	}
	e.counter.Increment(info.Kind, info.Context)

	result := Result{Attempted: true}
	for _, name := range e.StrategiesFor(info.Kind) {
		outcome := e.strategies[name](ctx, info, opts)
		result.Attempts = append(result.Attempts, Attempt{Strategy: name, Success: outcome.Success})
		if e.metrics != nil {
			e.metrics.RecordRecovery(ctx, name, outcome.Success)
		}
		if outcome.Success {
			result.Success = true
			result.Strategy = name
			result.Data = outcome.Data
			result.Stale = outcome.Stale
			if e.logger != nil {
				e.logger.LogInfo(ctx, "recovered from failure",
					"kind", string(info.Kind),
					"context", info.Context,
					"strategy", name,
					"stale", outcome.Stale,
				)
			}
			return result
		}
	}

	if e.logger != nil {
		e.logger.LogWarn(ctx, "all recovery strategies failed",
			"kind", string(info.Kind),
			"context", info.Context,
			"tried", len(result.Attempts),
		)
	}
	return result
}
