package recovery

import (
	"fmt"
	"sync"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
)

// AttemptCounter bounds how many times recovery runs for a recurring
// (kind, context) failure signature, so a permanently broken dependency
// cannot cause unbounded recovery churn. Counters reset only on process
// restart or an explicit Clear.
type AttemptCounter struct {
	mu       sync.Mutex
	attempts map[string]int
	cap      int
}

// NewAttemptCounter creates a counter with the given cap.
func NewAttemptCounter(cap int) *AttemptCounter {
	if cap <= 0 {
		cap = 5
	}
	return &AttemptCounter{
		attempts: make(map[string]int),
		cap:      cap,
	}
}

func signatureKey(kind faults.Kind, context string) string {
	return fmt.Sprintf("%s|%s", kind, context)
}

// Exhausted reports whether the signature has used up its recovery budget.
func (c *AttemptCounter) Exhausted(kind faults.Kind, context string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[signatureKey(kind, context)] >= c.cap
}

// Increment records one recovery attempt and returns the new count.
func (c *AttemptCounter) Increment(kind faults.Kind, context string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := signatureKey(kind, context)
	c.attempts[key]++
	return c.attempts[key]
}

// Count returns the current count for a signature.
func (c *AttemptCounter) Count(kind faults.Kind, context string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[signatureKey(kind, context)]
}

// Clear wipes every counter and returns how many signatures were tracked.
func (c *AttemptCounter) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.attempts)
	c.attempts = make(map[string]int)
	return n
}
