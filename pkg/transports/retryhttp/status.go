package retryhttp

import (
	"slices"
	"time"
)

// StatusClass is the outcome class of a single HTTP response.
type StatusClass int

const (
	// StatusHardFail ends the operation immediately with an http_status error.
	StatusHardFail StatusClass = iota

	// StatusRetryable is logged and retried after the retry interval.
	StatusRetryable

	// StatusTerminal is one of the caller's success codes.
	StatusTerminal
)

// String implements fmt.Stringer.
func (c StatusClass) String() string {
	switch c {
	case StatusTerminal:
		return "terminal"
	case StatusRetryable:
		return "retryable"
	default:
		return "hard_fail"
	}
}

// DefaultRetryCodes are the statuses the control plane returns while it is busy or not yet
// aware of the VM.
var DefaultRetryCodes = []int{400, 404, 410, 429, 500, 503}

// Policy decides how response statuses are treated. SuccessCodes always wins over
// RetryCodes; a nil RetryCodes means DefaultRetryCodes. Any status in neither set is a
// hard failure.
type Policy struct {
	SuccessCodes []int
	RetryCodes   []int
}

// OK is the policy for endpoints that only answer 200.
var OK = Policy{SuccessCodes: []int{200}}

// Classify maps a status code to its class under p.
func (p Policy) Classify(status int) StatusClass {
	if slices.Contains(p.SuccessCodes, status) {
		return StatusTerminal
	}
	retry := p.RetryCodes
	if retry == nil {
		retry = DefaultRetryCodes
	}
	if slices.Contains(retry, status) {
		return StatusRetryable
	}
	return StatusHardFail
}

// Budget bounds one logical operation. Remaining shrinks by the elapsed time of each
// attempt plus one RetryInterval; AttemptTimeout bounds a single request and its body read.
type Budget struct {
	AttemptTimeout time.Duration
	RetryInterval  time.Duration
	Remaining      time.Duration
}

// WithRemaining returns a copy of b with a new remaining total.
func (b Budget) WithRemaining(d time.Duration) Budget {
	b.Remaining = d
	return b
}

// Exhausted reports whether no further attempt may start.
func (b Budget) Exhausted() bool {
	return b.Remaining <= 0
}
