package deliver

import (
	"net/http"
	"strconv"
	"time"
)

// State is the delivery attempt lifecycle. The retry loop is a small state
// machine so the schedule can be reasoned about (and tested) apart from any
// HTTP plumbing.
type State int

const (
	StatePending State = iota
	StateRetrying
	StateSucceeded
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Schedule is the exponential backoff policy for transient failures:
// attempt k waits min(Base * 2^(k-1), Cap) before attempt k+1.
type Schedule struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Wait returns the delay after a failed attempt number (1-based).
func (s Schedule) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.Cap {
			return s.Cap
		}
	}
	if d > s.Cap {
		return s.Cap
	}
	return d
}

// MaxBackoffSum bounds the total time the client can spend waiting between
// attempts, which in turn bounds shutdown latency for an in-flight delivery.
func (s Schedule) MaxBackoffSum() time.Duration {
	var total time.Duration
	for k := 1; k < s.MaxAttempts; k++ {
		total += s.Wait(k)
	}
	return total
}

// Class partitions endpoint responses for the retry decision.
type Class int

const (
	ClassSuccess Class = iota
	ClassTransient
	ClassRateLimited
	ClassNonTransient
)

// classifyStatus maps an HTTP status to a response class. Network-level
// errors never reach here; the caller treats them as transient directly.
func classifyStatus(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 500:
		return ClassTransient
	default:
		return ClassNonTransient
	}
}

// retryAfter extracts the endpoint-provided wait from a rate-limit response.
// Supports delta-seconds and HTTP-date forms; returns 0 when absent or
// unparseable so the caller falls back to the exponential schedule.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Attempt is the mutable bookkeeping for one record's delivery. It is owned
// by the client's retry loop and discarded once the loop ends.
type Attempt struct {
	Seq        int
	Attempts   int
	State      State
	LastStatus int
	LastErr    error
	NextDelay  time.Duration
}

// Result is the terminal outcome handed back to the pipeline.
type Result struct {
	State    State
	Attempts int
	Status   int
}

// Delivered reports whether the record reached the endpoint.
func (r Result) Delivered() bool { return r.State == StateSucceeded }
