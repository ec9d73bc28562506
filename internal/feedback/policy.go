// Package feedback decides when standby status updates are due and how
// long the event loop may sleep before the next mandatory send. All timing
// decisions live here; the loop asks and obeys.
package feedback

import (
	"math"
	"time"

	"github.com/jackc/pglogrepl"
)

const (
	// MinWait and MaxWait clamp the loop's blocking timeout. The lower
	// bound keeps the loop from busy-waiting under clock skew; the upper
	// bound keeps it from sleeping through a lost wakeup.
	MinWait = 300 * time.Millisecond
	MaxWait = 60 * time.Second
)

// Policy holds the configured send intervals.
type Policy struct {
	// FeedbackInterval is the minimum delay between change-triggered
	// sends.
	FeedbackInterval time.Duration
	// StatusInterval is the maximum delay between sends regardless of
	// progress. Zero disables the unconditional periodic send.
	StatusInterval time.Duration
}

// State is the loop's feedback progress as the policy sees it.
type State struct {
	// Requested is set when the server demanded a reply or a quit is
	// pending.
	Requested bool
	// NextLSN is the position the downstream consumer has confirmed.
	// Zero means no position is known yet and nothing can be sent.
	NextLSN pglogrepl.LSN
	// LastSentLSN is the flush position carried by the last update.
	LastSentLSN pglogrepl.LSN
	// LastSentAt is when the last update went out.
	LastSentAt time.Time
}

// Needed reports whether a standby status update must be sent now.
func (p Policy) Needed(now time.Time, st State) bool {
	if st.NextLSN == 0 {
		return false
	}
	if st.Requested {
		return true
	}
	elapsed := now.Sub(st.LastSentAt)
	if st.NextLSN != st.LastSentLSN && elapsed >= p.FeedbackInterval {
		return true
	}
	if p.StatusInterval != 0 && elapsed >= p.StatusInterval {
		return true
	}
	return false
}

// WaitTimeout returns how long the loop may block before the next
// mandatory send, clamped to [MinWait, MaxWait].
func (p Policy) WaitTimeout(now time.Time, st State) time.Duration {
	elapsed := now.Sub(st.LastSentAt)
	remaining := time.Duration(math.MaxInt64)

	if st.NextLSN != 0 && st.NextLSN != st.LastSentLSN {
		if d := p.FeedbackInterval - elapsed; d < remaining {
			remaining = d
		}
	}
	if st.NextLSN != 0 && p.StatusInterval != 0 {
		if d := p.StatusInterval - elapsed; d < remaining {
			remaining = d
		}
	}

	if remaining < MinWait {
		return MinWait
	}
	if remaining > MaxWait {
		return MaxWait
	}
	return remaining
}
