package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/observability"
	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/resilience"
)

// Client fetches channel data from the ThingSpeak REST API. Every call goes
// through the rate gate, the circuit breaker and classification-aware
// retries; concurrent identical requests are coalesced into one upstream
// call.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	timeout  time.Duration
	gate     *resilience.RateGate
	retryCfg resilience.RetryConfig
	cb       *resilience.CircuitBreaker
	logger   *observability.Logger
	metrics  *observability.Metrics

	group singleflight.Group

	healthMu sync.RWMutex
	health   ProviderHealth
}

// ClientConfig holds ThingSpeak client configuration.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	Gate           *resilience.RateGate
	RetryConfig    resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	HTTPClient     *http.Client
}

// NewClient creates a ThingSpeak client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.thingspeak.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryConfig.MaxRetries == 0 && cfg.RetryConfig.BaseDelay == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.Gate == nil {
		cfg.Gate = resilience.NewRateGate(resilience.DefaultRateGateConfig())
	}

	cb := cfg.CircuitBreaker
	if cb == nil {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "thingspeak",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), "thingspeak", int64(to))
				}
			},
		})
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SetCircuitBreakerState(context.Background(), "thingspeak", cb.StateInt())
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client-level timeout: each attempt gets its own deadline.
		httpClient = &http.Client{}
	}

	return &Client{
		http:     httpClient,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		gate:     cfg.Gate,
		retryCfg: cfg.RetryConfig,
		cb:       cb,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		health: ProviderHealth{
			Provider: "thingspeak",
		},
	}, nil
}

// Gate exposes the rate gate for usage reporting.
func (c *Client) Gate() *resilience.RateGate { return c.gate }

// CircuitBreaker exposes the breaker for admin operations.
func (c *Client) CircuitBreaker() *resilience.CircuitBreaker { return c.cb }

// Feed fetches a page of entries for a channel, newest last.
func (c *Client) Feed(ctx context.Context, channelID, results int, readKey string, opts ...FetchOptions) (*Feed, error) {
	if err := validateChannelID(channelID, "thingspeak.getFeed"); err != nil {
		return nil, err
	}
	if results <= 0 {
		results = 100
	}

	q := url.Values{}
	q.Set("results", strconv.Itoa(results))
	path := fmt.Sprintf("/channels/%d/feeds.json", channelID)

	var feed Feed
	if err := c.fetch(ctx, "thingspeak.getFeed", path, q, readKey, &feed, firstOption(opts)); err != nil {
		return nil, err
	}
	return &feed, nil
}

// LastEntry fetches the most recent entry for a channel.
func (c *Client) LastEntry(ctx context.Context, channelID int, readKey string, opts ...FetchOptions) (*Entry, error) {
	if err := validateChannelID(channelID, "thingspeak.getLastEntry"); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/channels/%d/feeds/last.json", channelID)

	var entry Entry
	if err := c.fetch(ctx, "thingspeak.getLastEntry", path, nil, readKey, &entry, firstOption(opts)); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ChannelInfo fetches channel metadata without entries.
func (c *Client) ChannelInfo(ctx context.Context, channelID int, readKey string, opts ...FetchOptions) (*Channel, error) {
	if err := validateChannelID(channelID, "thingspeak.getChannel"); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("results", "0")
	path := fmt.Sprintf("/channels/%d/feeds.json", channelID)

	var feed Feed
	if err := c.fetch(ctx, "thingspeak.getChannel", path, q, readKey, &feed, firstOption(opts)); err != nil {
		return nil, err
	}
	return &feed.Channel, nil
}

func validateChannelID(id int, op string) error {
	if id <= 0 {
		e := faults.New(faults.KindValidation, op, fmt.Sprintf("invalid channel id %d", id))
		return e.WithStatus(400)
	}
	return nil
}

// fetch runs one guarded request: single-flight coalescing around the
// breaker, retries inside the breaker, the rate gate before each attempt
// and a fresh deadline per attempt.
func (c *Client) fetch(ctx context.Context, op, path string, q url.Values, readKey string, out interface{}, opts FetchOptions) error {
	if q == nil {
		q = url.Values{}
	}
	if readKey != "" {
		q.Set("api_key", readKey)
	} else if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	reqURL := c.baseURL + path + "?" + q.Encode()

	retryCfg := c.retryCfg
	if opts.MaxRetries > 0 {
		retryCfg.MaxRetries = opts.MaxRetries
	}
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	// Coalescing is keyed by URL alone: callers sharing an in-flight URL
	// share the first caller's budget and its result.
	body, err, _ := c.group.Do(reqURL, func() (interface{}, error) {
		return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) ([]byte, error) {
			return resilience.RetryWithResult(ctx, retryCfg, c.shouldRetry, func(ctx context.Context) ([]byte, error) {
				return c.attempt(ctx, op, reqURL, timeout)
			})
		})
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return faults.Wrap(err, faults.KindData, op)
	}
	return nil
}

// shouldRetry keeps the classification table's decision except for gate
// rejections: an exhausted ceiling resets on window boundaries, not on
// backoff, so retrying locally is pointless.
func (c *Client) shouldRetry(err error) bool {
	if errors.Is(err, resilience.ErrRateLimitExceeded) {
		return false
	}
	return resilience.RetryableError(err)
}

func (c *Client) attempt(ctx context.Context, op, reqURL string, timeout time.Duration) ([]byte, error) {
	gateStart := time.Now()
	if err := c.gate.Acquire(ctx); err != nil {
		var rle *resilience.RateLimitError
		if errors.As(err, &rle) {
			if c.metrics != nil {
				c.metrics.RecordRateGateRejection(ctx, rle.Scope)
			}
			// Local exhaustion is a connectivity-class failure: nothing is
			// wrong with the request, the pipe is just closed for now.
			fe := faults.Wrap(err, faults.KindNetwork, op)
			fe.Message = fmt.Sprintf("%s (retry after %s)", err.Error(), rle.RetryAfter.Round(time.Second))
			return nil, fe
		}
		return nil, faults.Wrap(err, faults.Classify(err, faults.ClassifyContext{Context: op}), op)
	}
	if waited := time.Since(gateStart); waited > 50*time.Millisecond && c.metrics != nil {
		c.metrics.RecordRateGateWait(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	body, status, err := c.do(attemptCtx, op, reqURL)
	duration := time.Since(start)

	c.recordHealth(err, duration)
	if c.metrics != nil {
		c.metrics.RecordUpstreamCall(ctx, op, status, duration)
	}

	if err != nil {
		if c.logger != nil {
			c.logger.LogDebug(ctx, "upstream call failed",
				"operation", op,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"error", err,
			)
		}
		return nil, err
	}

	if c.logger != nil {
		c.logger.LogDebug(ctx, "upstream call succeeded",
			"operation", op,
			"duration_ms", duration.Milliseconds(),
		)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, op, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, faults.Wrap(err, faults.KindValidation, op)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// A per-attempt deadline expiring surfaces here as a url.Error
		// wrapping context.DeadlineExceeded.
		return nil, 0, faults.Wrap(err, faults.Classify(err, faults.ClassifyContext{Context: op}), op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, faults.Wrap(err, faults.KindNetwork, op)
	}

	if resp.StatusCode != http.StatusOK {
		kind := faults.Classify(nil, faults.ClassifyContext{
			Context:    op,
			HTTPStatus: resp.StatusCode,
		})
		fe := faults.New(kind, op, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)))
		return nil, resp.StatusCode, fe.WithStatus(resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Health returns the current provider health snapshot.
func (c *Client) Health() ProviderHealth {
	c.healthMu.RLock()
	h := c.health
	c.healthMu.RUnlock()

	if c.cb != nil {
		h.CircuitState = c.cb.State().String()
	}
	minuteUsed, _, dayUsed, _ := c.gate.Usage()
	h.RateMinuteUsed = minuteUsed
	h.RateDayUsed = dayUsed
	return h
}

func (c *Client) recordHealth(err error, duration time.Duration) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastDuration = duration
	if err == nil {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
		c.health.ConsecutiveFailures = 0
		return
	}

	c.health.LastFailure = time.Now()
	c.health.LastError = err.Error()
	c.health.ConsecutiveFailures++
}
