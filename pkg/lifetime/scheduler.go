package lifetime

import (
	"math"
	"math/rand/v2"

	"github.com/kart-io/leaf-server/pkg/errors"
)

// Unlimited disables the request limit.
const Unlimited = -1

const (
	lowerJitter = 0.9
	upperJitter = 1.1
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithIntN replaces the random source used to pick the threshold. fn must
// return a value in [0, n).
func WithIntN(fn func(n int) int) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.intn = fn
		}
	}
}

// Scheduler decides, from the running request total, whether the server
// keeps serving. The threshold is drawn once, uniformly from
// [round(limit*0.9), round(limit*1.1)], so a fleet started together does not
// recycle in lockstep.
type Scheduler struct {
	limit     int
	lower     int64
	upper     int64
	threshold int64
	intn      func(n int) int
}

// NewScheduler validates limit and draws the shutdown threshold.
func NewScheduler(limit int, opts ...SchedulerOption) (*Scheduler, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	s := &Scheduler{
		limit:     limit,
		threshold: Unlimited,
		intn:      rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}

	if limit == Unlimited {
		return s, nil
	}

	s.lower, s.upper = thresholdBounds(limit)

	n := s.upper - s.lower + 1
	if n <= 0 || n > math.MaxInt {
		return nil, errors.ErrConfigInvalid.WithMessagef("request limit %d gives an empty threshold interval", limit)
	}
	offset := int64(s.intn(int(n)))
	if offset < 0 || offset >= n {
		return nil, errors.ErrConfigInvalid.WithMessagef("threshold offset %d outside [0, %d)", offset, n)
	}
	s.threshold = s.lower + offset

	return s, nil
}

// thresholdBounds rounds half to even: 4.5 -> 4, 5.5 -> 6.
func thresholdBounds(limit int) (lower, upper int64) {
	return int64(math.RoundToEven(float64(limit) * lowerJitter)),
		int64(math.RoundToEven(float64(limit) * upperJitter))
}

// validateLimit accepts -1 and every non-negative limit whose upper bound
// fits in an int.
func validateLimit(limit int) error {
	if limit < Unlimited {
		return errors.ErrConfigInvalid.WithMessagef("request limit must be -1 or non-negative, got %d", limit)
	}
	if math.RoundToEven(float64(limit)*upperJitter) >= float64(math.MaxInt) {
		return errors.ErrConfigInvalid.WithMessagef("request limit %d is too large", limit)
	}
	return nil
}

// KeepGoing reports whether a server that has admitted total requests
// should continue serving.
func (s *Scheduler) KeepGoing(total int64) bool {
	return s.limit == Unlimited || total <= s.threshold
}

// Threshold returns the drawn threshold, or -1 when unlimited.
func (s *Scheduler) Threshold() int64 {
	return s.threshold
}

// Bounds returns the closed interval the threshold was drawn from.
func (s *Scheduler) Bounds() (lower, upper int64) {
	return s.lower, s.upper
}

// Limit returns the configured limit.
func (s *Scheduler) Limit() int {
	return s.limit
}

// Unlimited reports whether the scheduler never stops the server.
func (s *Scheduler) Unlimited() bool {
	return s.limit == Unlimited
}
