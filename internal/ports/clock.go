package ports

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemClock is the production Clock backed by the wall clock and random UUIDs.
type SystemClock struct{}

func (SystemClock) Now() time.Time  { return time.Now() }
func (SystemClock) NewUUID() string { return uuid.NewString() }

// FakeClock is a manually-advanced clock for tests. UUIDs are sequential so
// identifiers in assertions stay stable.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
	seq int
}

// NewFakeClock starts a fake clock at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

// Advance moves the clock forward.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)
}

// Set pins the clock to an absolute instant.
func (fc *FakeClock) Set(t time.Time) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = t
}

func (fc *FakeClock) NewUUID() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.seq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", fc.seq)
}
