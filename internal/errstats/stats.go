package errstats

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
)

// Record is one observed failure, kept in the bounded recent-errors ring.
type Record struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Context         string          `json:"context"`
	Kind            faults.Kind     `json:"kind"`
	Severity        faults.Severity `json:"severity"`
	Message         string          `json:"message"`
	RecoveryOutcome string          `json:"recoveryOutcome,omitempty"`
}

// Snapshot is the JSON shape written to disk and served to the dashboard.
type Snapshot struct {
	Total            int64            `json:"total"`
	Repeated         int64            `json:"repeated"`
	ByType           map[string]int64 `json:"byType"`
	ByContext        map[string]int64 `json:"byContext"`
	ByHour           [24]int64        `json:"byHour"`
	ByDay            [7]int64         `json:"byDay"`
	RecentErrors     []Record         `json:"recentErrors,omitempty"`
	PatternsDetected int              `json:"patternsDetected"`
	RecoveryAttempts int64            `json:"recoveryAttempts"`
	RecoverySuccess  int64            `json:"recoverySuccess"`
	LastUpdated      time.Time        `json:"lastUpdated"`
}

// patternThreshold is how many occurrences of a normalized message count
// as a detected pattern.
const patternThreshold = 5

var digitRun = regexp.MustCompile(`\d+`)

// normalizeMessage collapses variable parts of a message so recurrences of
// the same underlying failure aggregate into one histogram bucket.
func normalizeMessage(msg string) string {
	norm := strings.ToLower(strings.TrimSpace(msg))
	norm = digitRun.ReplaceAllString(norm, "#")
	if len(norm) > 200 {
		norm = norm[:200]
	}
	return norm
}

// Stats accumulates aggregate error counters and the recent-errors ring.
// Append-only from the caller's perspective; bounded in memory.
type Stats struct {
	mu sync.Mutex

	total            int64
	repeated         int64
	byType           map[string]int64
	byContext        map[string]int64
	byHour           [24]int64
	byDay            [7]int64
	messages         map[string]int64
	recent           []Record
	recentCap        int
	recoveryAttempts int64
	recoverySuccess  int64

	now func() time.Time
}

// NewStats creates a stats accumulator keeping at most recentCap records.
func NewStats(recentCap int) *Stats {
	if recentCap <= 0 {
		recentCap = 100
	}
	return &Stats{
		byType:    make(map[string]int64),
		byContext: make(map[string]int64),
		messages:  make(map[string]int64),
		recentCap: recentCap,
		now:       time.Now,
	}
}

// Add records one failure. Suppressed repeats go into the separate repeated
// counter so they do not skew the primary totals.
func (s *Stats) Add(rec Record, suppressedRepeat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if suppressedRepeat {
		s.repeated++
		return
	}

	s.total++
	s.byType[string(rec.Kind)]++
	if rec.Context != "" {
		s.byContext[rec.Context]++
	}
	s.byHour[rec.Timestamp.Hour()]++
	s.byDay[int(rec.Timestamp.Weekday())]++
	s.messages[normalizeMessage(rec.Message)]++

	s.recent = append(s.recent, rec)
	if len(s.recent) > s.recentCap {
		s.recent = s.recent[len(s.recent)-s.recentCap:]
	}
}

// AddRecovery tallies a recovery attempt and its outcome.
func (s *Stats) AddRecovery(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recoveryAttempts++
	if success {
		s.recoverySuccess++
	}
}

// Snapshot returns a copy of the aggregates. With detailed=false the
// recent-errors ring is omitted, which keeps the payload small for
// dashboard polling.
func (s *Stats) Snapshot(detailed bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:            s.total,
		Repeated:         s.repeated,
		ByType:           make(map[string]int64, len(s.byType)),
		ByContext:        make(map[string]int64, len(s.byContext)),
		ByHour:           s.byHour,
		ByDay:            s.byDay,
		RecoveryAttempts: s.recoveryAttempts,
		RecoverySuccess:  s.recoverySuccess,
		LastUpdated:      s.now(),
	}
	for k, v := range s.byType {
		snap.ByType[k] = v
	}
	for k, v := range s.byContext {
		snap.ByContext[k] = v
	}
	for _, count := range s.messages {
		if count >= patternThreshold {
			snap.PatternsDetected++
		}
	}
	if detailed {
		snap.RecentErrors = make([]Record, len(s.recent))
		copy(snap.RecentErrors, s.recent)
	}
	return snap
}

// Clear resets every counter and returns how many primary records had been
// counted.
func (s *Stats) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int(s.total)
	s.total = 0
	s.repeated = 0
	s.byType = make(map[string]int64)
	s.byContext = make(map[string]int64)
	s.byHour = [24]int64{}
	s.byDay = [7]int64{}
	s.messages = make(map[string]int64)
	s.recent = nil
	s.recoveryAttempts = 0
	s.recoverySuccess = 0
	return n
}
