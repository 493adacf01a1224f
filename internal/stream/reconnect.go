package stream

import (
	"sync"
	"time"

	"github.com/camview/streamclient/pkg/types"
)

// GiveUpReason is the terminal user-facing message once the retry budget
// is exhausted.
const GiveUpReason = "Connection failed after multiple attempts"

// ActionKind tags the policy's decision after a session ends.
type ActionKind int

const (
	// ActionNone means the policy has nothing to do (cancelled sessions).
	ActionNone ActionKind = iota
	// ActionRestartImmediately follows a natural cycle.
	ActionRestartImmediately
	// ActionRestartAfterDelay applies bounded backoff after an error.
	ActionRestartAfterDelay
	// ActionGiveUp ends automatic restarts until the caller intervenes.
	ActionGiveUp
)

// Action is the reconnect decision for one session end.
type Action struct {
	Kind   ActionKind
	Delay  time.Duration // Set for ActionRestartAfterDelay
	Reason string        // Set for ActionGiveUp
}

// Policy decides whether a session end restarts immediately, restarts
// after a bounded delay, or gives up. Backoff is linear-times-attempt and
// capped, never unbounded exponential.
type Policy struct {
	mu       sync.Mutex
	tuning   Tuning
	attempts uint8
}

// NewPolicy creates a policy with a zeroed attempt counter.
func NewPolicy(tuning Tuning) *Policy {
	return &Policy{tuning: tuning}
}

// Attempts returns the current error-attempt count. It resets to zero on
// any successful frame delivery and on every natural-cycle restart; it only
// increments on error-classified session ends.
func (p *Policy) Attempts() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Reset zeroes the attempt counter.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

// OnSessionEnded maps a session outcome to the next action.
func (p *Policy) OnSessionEnded(outcome types.SessionOutcome) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch outcome.Kind {
	case types.OutcomeCancelled:
		return Action{Kind: ActionNone}

	case types.OutcomeNatural:
		p.attempts = 0
		return Action{Kind: ActionRestartImmediately}

	default:
		if p.attempts >= p.tuning.MaxReconnectAttempts {
			return Action{Kind: ActionGiveUp, Reason: GiveUpReason}
		}

		base, ceiling := p.tuning.ErrorBackoffBase, p.tuning.ErrorBackoffCap
		if outcome.PrematureClose {
			base, ceiling = p.tuning.PrematureBackoffBase, p.tuning.PrematureBackoffCap
		}
		delay := base * time.Duration(p.attempts+1)
		if delay > ceiling {
			delay = ceiling
		}
		p.attempts++
		return Action{Kind: ActionRestartAfterDelay, Delay: delay}
	}
}
