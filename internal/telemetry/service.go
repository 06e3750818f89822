package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/errstats"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/cache"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/recovery"
)

// ChannelRef identifies a registered channel and its read key.
type ChannelRef struct {
	ID      int
	Name    string
	ReadKey string
}

// FetchOptions override the configured defaults for a single call. The
// zero value keeps every default.
type FetchOptions struct {
	// MaxRetries overrides the retry budget when positive.
	MaxRetries int
	// Timeout overrides the per-attempt deadline when positive.
	Timeout time.Duration
	// TTL overrides how long a successful result stays fresh in cache.
	TTL time.Duration
}

func firstOption(opts []FetchOptions) FetchOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return FetchOptions{}
}

// Response is the service-level result of a data operation. Success with
// FromCache or Stale set means the caller got degraded but usable data.
type Response struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Err       *faults.Error `json:"error,omitempty"`
	FromCache bool          `json:"fromCache"`
	Stale     bool          `json:"stale"`
}

// Service is the data-access layer the dashboard and collector talk to.
// It fronts the ThingSpeak client with a cache and degrades to stale or
// default data before ever returning a hard failure.
type Service struct {
	client   *Client
	store    *cache.LayeredCache
	reporter *errstats.Reporter
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer

	ttl         time.Duration
	maxStaleAge time.Duration
	channels    []ChannelRef
}

// ServiceConfig holds service construction parameters.
type ServiceConfig struct {
	Client      *Client
	Store       *cache.LayeredCache
	Reporter    *errstats.Reporter
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Tracer      observability.Tracer
	TTL         time.Duration
	MaxStaleAge time.Duration
	Channels    []ChannelRef
}

// NewService creates the data-access service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxStaleAge <= 0 {
		cfg.MaxStaleAge = 24 * time.Hour
	}
	return &Service{
		client:      cfg.Client,
		store:       cfg.Store,
		reporter:    cfg.Reporter,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		ttl:         cfg.TTL,
		maxStaleAge: cfg.MaxStaleAge,
		channels:    cfg.Channels,
	}
}

// Channels returns the registered channel list.
func (s *Service) Channels() []ChannelRef { return s.channels }

func (s *Service) channelByID(id int) (ChannelRef, bool) {
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelRef{}, false
}

// Feed returns a page of entries for a channel, degrading to stale cache
// or an empty feed when the upstream is unavailable.
func (s *Service) Feed(ctx context.Context, channelID, results int, opts ...FetchOptions) Response {
	ch, _ := s.channelByID(channelID)
	key := fmt.Sprintf("feed:%d:%d", channelID, results)
	defaults := &Feed{Channel: Channel{ID: channelID, Name: ch.Name}}
	o := firstOption(opts)

	return s.fetchThrough(ctx, "thingspeak.getFeed", key, defaults, o, func(ctx context.Context) (interface{}, error) {
		return s.client.Feed(ctx, channelID, results, ch.ReadKey, o)
	})
}

// LastEntry returns the most recent reading for a channel.
func (s *Service) LastEntry(ctx context.Context, channelID int, opts ...FetchOptions) Response {
	ch, _ := s.channelByID(channelID)
	key := fmt.Sprintf("last:%d:entry", channelID)
	o := firstOption(opts)

	return s.fetchThrough(ctx, "thingspeak.getLastEntry", key, nil, o, func(ctx context.Context) (interface{}, error) {
		return s.client.LastEntry(ctx, channelID, ch.ReadKey, o)
	})
}

// ChannelInfo returns channel metadata.
func (s *Service) ChannelInfo(ctx context.Context, channelID int, opts ...FetchOptions) Response {
	ch, _ := s.channelByID(channelID)
	key := fmt.Sprintf("channel:%d:info", channelID)
	o := firstOption(opts)

	return s.fetchThrough(ctx, "thingspeak.getChannel", key, nil, o, func(ctx context.Context) (interface{}, error) {
		return s.client.ChannelInfo(ctx, channelID, ch.ReadKey, o)
	})
}

// fetchThrough is the degrade-before-fail path shared by every operation:
// fresh cache, then upstream, then recovery (stale cache, defaults), and
// only then a classified error.
func (s *Service) fetchThrough(ctx context.Context, op, key string, defaults interface{}, opts FetchOptions, fetch func(context.Context) (interface{}, error)) Response {
	var span observability.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartSpan(ctx, op, observability.WithAttributes(
			attribute.String("cache.key", key),
		))
		defer span.End()
	}

	if v, err := s.store.Get(ctx, key); err == nil {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(ctx, "service")
		}
		return Response{Success: true, Data: v, FromCache: true}
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(ctx, "service")
	}

	v, err := fetch(ctx)
	if err == nil {
		ttl := s.ttl
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		if setErr := s.store.Set(ctx, key, v, ttl); setErr != nil && s.logger != nil {
			s.logger.LogWarn(ctx, "failed to cache result", "key", key, "error", setErr)
		}
		return Response{Success: true, Data: v}
	}

	family := cache.Family(key)
	rep := s.reporter.ReportError(ctx, errstats.ReportInput{
		Err:        err,
		Context:    op,
		Override:   kindOf(err),
		HTTPStatus: statusOf(err),
		Recovery: recovery.Options{
			CacheKey:    key,
			CacheFamily: family,
			MaxStaleAge: s.maxStaleAge,
			Defaults:    defaults,
		},
	})

	if rep.Recovery.Success {
		stale := rep.Recovery.Stale
		if stale && s.metrics != nil {
			s.metrics.RecordStaleServed(ctx, family)
		}
		if span != nil {
			span.AddEvent("degraded",
				attribute.String("strategy", rep.Recovery.Strategy),
				attribute.Bool("stale", stale),
			)
		}
		if s.logger != nil {
			s.logger.LogInfo(ctx, "degraded result served",
				"operation", op,
				"strategy", rep.Recovery.Strategy,
				"stale", stale,
			)
		}
		return Response{
			Success:   true,
			Data:      rep.Recovery.Data,
			FromCache: rep.Recovery.Strategy != "retry",
			Stale:     stale,
		}
	}

	if span != nil {
		span.NoticeError(err)
	}
	return Response{Success: false, Err: asFault(err, rep)}
}

func kindOf(err error) faults.Kind {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func statusOf(err error) int {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return fe.HTTPStatus
	}
	return 0
}

func asFault(err error, rep errstats.Report) *faults.Error {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return fe
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	out := faults.New(rep.Kind, "", msg)
	out.ID = rep.ErrorID
	out.Severity = rep.Severity
	out.HTTPStatus = rep.HTTPStatus
	return out
}

// Stats returns the current error-statistics snapshot.
func (s *Service) Stats(detailed bool) errstats.Snapshot {
	return s.reporter.Stats().Snapshot(detailed)
}

// ClearCache drops all cached data and returns how many entries were
// removed. Clearing an empty cache is a no-op.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	n, err := s.store.Clear(ctx)
	if err != nil {
		return n, err
	}
	if s.logger != nil {
		s.logger.LogInfo(ctx, "cache cleared", "entries", n)
	}
	return n, nil
}

// ClearStats resets error statistics and suppression state.
func (s *Service) ClearStats(ctx context.Context) (records, states int) {
	records, states = s.reporter.ClearStats()
	if s.logger != nil {
		s.logger.LogInfo(ctx, "error stats cleared", "records", records, "states", states)
	}
	return records, states
}

// RecoveryStrategies lists the ordered strategy names for an error kind.
// Kinds with no registered strategies return an empty list.
func (s *Service) RecoveryStrategies(kind faults.Kind) []string {
	return kind.RecoveryStrategies()
}

// Health reports upstream client health.
func (s *Service) Health() ProviderHealth {
	return s.client.Health()
}

// Name implements cache.WarmupProvider.
func (s *Service) Name() string { return "telemetry" }

// Warmup implements cache.WarmupProvider: it primes the feed cache for
// every registered channel. A single channel failing does not abort the
// rest; the per-call degrade path already handled it.
func (s *Service) Warmup(ctx context.Context) error {
	var failed int
	for _, ch := range s.channels {
		resp := s.Feed(ctx, ch.ID, 100)
		if !resp.Success {
			failed++
			if s.logger != nil {
				s.logger.LogWarn(ctx, "channel warmup failed", "channel_id", ch.ID, "error", resp.Err)
			}
		}
	}
	if failed == len(s.channels) && failed > 0 {
		return fmt.Errorf("all %d channel warmups failed", failed)
	}
	return nil
}
