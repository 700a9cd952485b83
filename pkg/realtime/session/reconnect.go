package session

import "time"

// reconnectState tracks automatic reconnection across connection losses.
// The delay before attempt N is base doubled N-1 times, with no upper
// bound on the delay itself; the attempt count is the only ceiling. All
// methods require the caller to hold the client mutex.
type reconnectState struct {
	attempts int
	max      int
	base     time.Duration
	delay    time.Duration
	timer    *time.Timer
}

func newReconnectState(max int, base time.Duration) *reconnectState {
	return &reconnectState{max: max, base: base, delay: base}
}

// next consumes one attempt. It returns the attempt number and the delay
// to wait before dialing, or ok=false once the ceiling is reached.
func (r *reconnectState) next() (attempt int, delay time.Duration, ok bool) {
	if r.attempts >= r.max {
		return 0, 0, false
	}
	r.attempts++
	delay = r.delay
	r.delay *= 2
	return r.attempts, delay, true
}

// reset restores the initial schedule. Called after a successful open and
// on explicit disconnect.
func (r *reconnectState) reset() {
	r.attempts = 0
	r.delay = r.base
	r.stop()
}

// stop cancels a pending reconnect timer without touching the schedule.
func (r *reconnectState) stop() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
