// Package errstats tracks failures: classification-keyed suppression of
// repeat storms, aggregate statistics, persistence, and alerting.
package errstats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/recovery"
)

// Alert is the payload handed to the alert publisher for high-severity,
// unsuppressed failures.
type Alert struct {
	ErrorID   string          `json:"errorId"`
	Kind      faults.Kind     `json:"kind"`
	Severity  faults.Severity `json:"severity"`
	Context   string          `json:"context"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// AlertPublisher delivers alerts to an external channel. Implementations
// must be safe for concurrent use.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// ReportInput carries everything known about a failure at the call site.
type ReportInput struct {
	// Err is the raw failure.
	Err error

	// Context is the dotted operation name, e.g. "thingspeak.getFeed".
	Context string

	// Override forces the classification when the caller already knows the
	// kind, e.g. a rate gate rejection is NETWORK by contract.
	Override faults.Kind

	// HTTPStatus is the upstream status when one exists, 0 otherwise.
	HTTPStatus int

	// MalformedID marks a 404 caused by a bad client-supplied identifier.
	MalformedID bool

	// Severity overrides the kind's default severity when non-empty.
	Severity faults.Severity

	// Recovery is the fallback material for the recovery engine. Leave the
	// zero value to report without attempting recovery.
	Recovery recovery.Options

	// SkipRecovery reports and tallies without running any strategy, for
	// failures that already carry their own fallback handling.
	SkipRecovery bool
}

// RecoveryReport summarizes the recovery run attached to one report.
type RecoveryReport struct {
	Attempted bool
	Success   bool
	Strategy  string
	Data      interface{}
	Stale     bool
}

// Report is the reporter's verdict for one failure.
type Report struct {
	ErrorID    string
	Kind       faults.Kind
	Severity   faults.Severity
	HTTPStatus int
	Suppressed bool
	Recovery   RecoveryReport
}

// Reporter is the single entry point for failures. It classifies, applies
// suppression, runs recovery, updates statistics, and persists and alerts
// as configured. Any of engine, persister, and alerts may be nil.
type Reporter struct {
	suppressor *Suppressor
	stats      *Stats
	engine     *recovery.Engine
	persister  *Persister
	alerts     AlertPublisher
	logger     *observability.Logger
	metrics    *observability.Metrics

	now func() time.Time
}

// ReporterDeps holds reporter construction parameters.
type ReporterDeps struct {
	Suppressor *Suppressor
	Stats      *Stats
	Engine     *recovery.Engine
	Persister  *Persister
	Alerts     AlertPublisher
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewReporter creates a reporter. Suppressor and Stats are required.
func NewReporter(deps ReporterDeps) *Reporter {
	return &Reporter{
		suppressor: deps.Suppressor,
		stats:      deps.Stats,
		engine:     deps.Engine,
		persister:  deps.Persister,
		alerts:     deps.Alerts,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// ReportError processes one failure end to end.
//
// Suppression mutes logging and alerting for repeat storms, but recovery
// still runs for every occurrence: a muted error is no less in need of a
// fallback result than a logged one.
func (r *Reporter) ReportError(ctx context.Context, in ReportInput) Report {
	kind := faults.Classify(in.Err, faults.ClassifyContext{
		Context:     in.Context,
		Override:    in.Override,
		HTTPStatus:  in.HTTPStatus,
		MalformedID: in.MalformedID,
	})

	severity := in.Severity
	if severity == "" {
		severity = kind.DefaultSeverity()
	}
	status := in.HTTPStatus
	if status == 0 {
		status = kind.DefaultHTTPStatus()
	}
	message := ""
	if in.Err != nil {
		message = in.Err.Error()
	}

	repeated, suppressed := r.suppressor.Record(kind, in.Context, message)

	rep := Report{
		ErrorID:    uuid.New().String(),
		Kind:       kind,
		Severity:   severity,
		HTTPStatus: status,
		Suppressed: suppressed,
	}

	if r.engine != nil && !in.SkipRecovery {
		res := r.engine.Recover(ctx, recovery.ErrorInfo{
			Kind:       kind,
			Context:    in.Context,
			Message:    message,
			HTTPStatus: in.HTTPStatus,
		}, in.Recovery)
		rep.Recovery = RecoveryReport{
			Attempted: res.Attempted,
			Success:   res.Success,
			Strategy:  res.Strategy,
			Data:      res.Data,
			Stale:     res.Stale,
		}
		if res.Attempted {
			r.stats.AddRecovery(res.Success)
		}
	}

	rec := Record{
		ID:              rep.ErrorID,
		Timestamp:       r.now(),
		Context:         in.Context,
		Kind:            kind,
		Severity:        severity,
		Message:         message,
		RecoveryOutcome: recoveryOutcome(rep.Recovery),
	}
	r.stats.Add(rec, suppressed)

	if r.metrics != nil {
		r.metrics.RecordError(ctx, string(kind))
		if suppressed {
			r.metrics.RecordSuppressed(ctx, string(kind))
		}
	}

	if suppressed {
		return rep
	}

	r.logReport(ctx, in.Err, rec, repeated)

	if r.persister != nil {
		if err := r.persister.AppendLog(rec); err != nil && r.logger != nil {
			r.logger.LogWarn(ctx, "failed to append error log", "error", err)
		}
	}

	if r.alerts != nil && severity == faults.SeverityHigh {
		alert := Alert{
			ErrorID:   rec.ID,
			Kind:      kind,
			Severity:  severity,
			Context:   in.Context,
			Message:   message,
			Timestamp: rec.Timestamp,
		}
		if err := r.alerts.PublishAlert(ctx, alert); err != nil && r.logger != nil {
			r.logger.LogWarn(ctx, "failed to publish error alert", "error", err)
		}
	}

	return rep
}

// Suppressor exposes the suppressor for sweeping and admin operations.
func (r *Reporter) Suppressor() *Suppressor { return r.suppressor }

// Stats exposes the aggregates for snapshots and admin operations.
func (r *Reporter) Stats() *Stats { return r.stats }

// ClearStats resets aggregates and suppression state and returns how many
// records and tracked signatures were dropped. Clearing twice is harmless.
func (r *Reporter) ClearStats() (records, states int) {
	records = r.stats.Clear()
	states = r.suppressor.Clear()
	if r.engine != nil {
		r.engine.Counter().Clear()
	}
	return records, states
}

// RunSweeper discards stale suppression state on the given cadence until
// ctx is cancelled.
func (r *Reporter) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.suppressor.Sweep(); n > 0 && r.logger != nil {
				r.logger.LogDebug(ctx, "swept stale error state", "removed", n)
			}
		}
	}
}

func (r *Reporter) logReport(ctx context.Context, err error, rec Record, repeated bool) {
	if r.logger == nil {
		return
	}

	fields := []any{
		"error_id", rec.ID,
		"kind", string(rec.Kind),
		"severity", string(rec.Severity),
		"context", rec.Context,
		"repeated", repeated,
	}
	if rec.RecoveryOutcome != "" {
		fields = append(fields, "recovery", rec.RecoveryOutcome)
	}

	switch rec.Severity {
	case faults.SeverityHigh:
		r.logger.LogError(ctx, "error reported", err, fields...)
	case faults.SeverityMedium:
		r.logger.LogWarn(ctx, "error reported", fields...)
	default:
		r.logger.LogDebug(ctx, "error reported", fields...)
	}
}

func recoveryOutcome(rr RecoveryReport) string {
	if !rr.Attempted {
		return ""
	}
	if rr.Success {
		return "recovered:" + rr.Strategy
	}
	return "unrecovered"
}
