package dispatch

import (
	"sync"
	"time"
)

// breakerState tracks consecutive failures for a single channel.
//
// Consecutive-failure breaker with a fixed cooldown:
//   - On success: resets failures and closes the circuit.
//   - On failure: increments failures and, once failures >= trip,
//     opens the circuit for the configured cooldown.
//
// Failures are counted per job outcome, after retries are exhausted.
// A half-open probe is implicit: once the cooldown elapses the next
// job attempts the channel again, and its result decides.
type breakerState struct {
	fails     int
	openUntil time.Time
}

type breakerStore struct {
	mu       sync.Mutex
	m        map[string]*breakerState
	trip     int
	cooldown time.Duration
}

func newBreakerStore(trip int, cooldown time.Duration) *breakerStore {
	if trip <= 0 {
		trip = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breakerStore{
		m:        make(map[string]*breakerState),
		trip:     trip,
		cooldown: cooldown,
	}
}

// allow reports whether the channel may be attempted now. When the
// circuit is open it also returns the time it will close.
func (s *breakerStore) allow(channelID string, now time.Time) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[channelID]
	if st == nil {
		return true, time.Time{}
	}
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return false, st.openUntil
	}
	return true, time.Time{}
}

// record feeds the final per-channel result into the breaker. It returns
// true when this failure tripped the circuit open.
func (s *breakerStore) record(channelID string, now time.Time, failed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[channelID]
	if st == nil {
		st = &breakerState{}
		s.m[channelID] = st
	}
	if !failed {
		st.fails = 0
		st.openUntil = time.Time{}
		return false
	}
	st.fails++
	if st.fails < s.trip {
		return false
	}
	wasOpen := !st.openUntil.IsZero() && now.Before(st.openUntil)
	st.openUntil = now.Add(s.cooldown)
	return !wasOpen
}

// snapshot reports how many channels are tracked and how many circuits
// are currently open.
func (s *breakerStore) snapshot(now time.Time) (total, open int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = len(s.m)
	for _, st := range s.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
