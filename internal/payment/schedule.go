package payment

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	jitter     = 0.2
	multiplier = 1.5
)

// Schedule yields poll delays growing from min towards max with ±20% jitter.
type Schedule struct {
	bo   *backoff.ExponentialBackOff
	last time.Duration
}

func NewSchedule(min, max time.Duration) *Schedule {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min
	bo.MaxInterval = max
	bo.RandomizationFactor = jitter
	bo.Multiplier = multiplier
	bo.Reset()
	return &Schedule{bo: bo}
}

// Next escalates the delay.
func (s *Schedule) Next() time.Duration {
	s.last = s.bo.NextBackOff()
	return s.last
}

// Repeat returns the previous delay again; transport errors do not escalate.
func (s *Schedule) Repeat() time.Duration {
	if s.last == 0 {
		return s.Next()
	}
	return s.last
}
