// Package errstats tracks every failure the service sees: sliding-window
// repeat detection with suppression, aggregate statistics, and persistence
// of both to disk. Nothing here affects the hot path's correctness: it is
// observability that must never change a request's outcome.
package errstats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
)

// ErrorState tracks recurrence of one (kind, context, message) signature.
type ErrorState struct {
	Kind          faults.Kind
	Context       string
	Message       string
	Count         int
	FirstSeen     time.Time
	LastSeen      time.Time
	Suppressed    bool
	SuppressUntil time.Time

	windowStart time.Time
	windowCount int
}

// SuppressorConfig holds repeat-detection settings.
type SuppressorConfig struct {
	// Threshold occurrences within Window trigger suppression.
	Threshold int
	Window    time.Duration

	// Cooldown is how long suppression holds once triggered.
	Cooldown time.Duration

	// Retention bounds how long an idle state is kept before the sweep
	// evicts it, independent of suppression.
	Retention time.Duration
}

// DefaultSuppressorConfig returns the standard thresholds.
func DefaultSuppressorConfig() SuppressorConfig {
	return SuppressorConfig{
		Threshold: 10,
		Window:    60 * time.Second,
		Cooldown:  5 * time.Minute,
		Retention: 30 * time.Minute,
	}
}

// Suppressor detects repeated identical errors and silences their logging
// and notifications for a cooldown period. Suppression only governs
// reporting; the calling request's outcome is untouched.
type Suppressor struct {
	mu     sync.Mutex
	states map[string]*ErrorState
	cfg    SuppressorConfig

	now func() time.Time
}

// NewSuppressor creates a suppressor with the given config.
func NewSuppressor(cfg SuppressorConfig) *Suppressor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Minute
	}
	return &Suppressor{
		states: make(map[string]*ErrorState),
		cfg:    cfg,
		now:    time.Now,
	}
}

func stateKey(kind faults.Kind, context, message string) string {
	return fmt.Sprintf("%s|%s|%s", kind, context, strings.ToLower(message))
}

// Record registers one occurrence and reports whether it is a repeat and
// whether it should be silenced.
func (s *Suppressor) Record(kind faults.Kind, context, message string) (repeated, suppressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := stateKey(kind, context, message)

	state, ok := s.states[key]
	if !ok {
		s.states[key] = &ErrorState{
			Kind:        kind,
			Context:     context,
			Message:     message,
			Count:       1,
			FirstSeen:   now,
			LastSeen:    now,
			windowStart: now,
			windowCount: 1,
		}
		return false, false
	}

	state.Count++
	state.LastSeen = now
	repeated = true

	// Cooldown elapsed: re-arm normal logging.
	if state.Suppressed && now.After(state.SuppressUntil) {
		state.Suppressed = false
		state.windowStart = now
		state.windowCount = 0
	}

	if state.Suppressed {
		return true, true
	}

	if now.Sub(state.windowStart) > s.cfg.Window {
		state.windowStart = now
		state.windowCount = 0
	}
	state.windowCount++

	if state.windowCount >= s.cfg.Threshold {
		state.Suppressed = true
		state.SuppressUntil = now.Add(s.cfg.Cooldown)
	}

	return true, false
}

// State returns a copy of the tracked state for a signature, if any.
func (s *Suppressor) State(kind faults.Kind, context, message string) (ErrorState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[stateKey(kind, context, message)]
	if !ok {
		return ErrorState{}, false
	}
	return *state, true
}

// Sweep evicts states whose LastSeen is older than the retention window,
// suppressed or not, and returns the count evicted. Called from a
// background timer, never from the request path.
func (s *Suppressor) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for key, state := range s.states {
		if now.Sub(state.LastSeen) > s.cfg.Retention {
			delete(s.states, key)
			evicted++
		}
	}
	return evicted
}

// Clear wipes all state and returns the count cleared.
func (s *Suppressor) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.states)
	s.states = make(map[string]*ErrorState)
	return n
}

// Len returns how many signatures are tracked.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
