package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Sampler throttles a noisy log site.
//
// Calls beyond the configured rate are dropped and counted; the next
// emitted line carries the number of suppressed lines as "suppressed".
type Sampler struct {
	log        Logger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewSampler allows perSec lines per second with the given burst.
func NewSampler(log Logger, perSec float64, burst int) *Sampler {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Sampler{log: log, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (s *Sampler) Warn(msg string, fields ...Field) {
	if s == nil {
		return
	}
	if !s.lim.Allow() {
		s.suppressed.Add(1)
		return
	}
	if n := s.suppressed.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	s.log.Warn(msg, fields...)
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (s *Sampler) Suppressed() uint64 {
	if s == nil {
		return 0
	}
	return s.suppressed.Load()
}
