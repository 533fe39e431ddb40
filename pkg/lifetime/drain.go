package lifetime

import (
	"time"

	"github.com/kart-io/logger"
)

const (
	// DefaultDrainInterval is how long the drainer sleeps between checks.
	DefaultDrainInterval = time.Minute
	// DefaultDrainMaxIntervals bounds the drain to 15 minutes.
	DefaultDrainMaxIntervals = 15
)

// DrainResult describes how a drain ended.
type DrainResult struct {
	Waits     int
	Remaining int64
	TimedOut  bool
}

// Drainer waits, up to a fixed number of intervals, for in-flight requests
// to finish.
type Drainer struct {
	processing   func() int64
	interval     time.Duration
	maxIntervals int
	sleep        func(time.Duration)
	onWait       func()
}

// NewDrainer creates a drainer. A nil sleep uses time.Sleep.
func NewDrainer(processing func() int64, interval time.Duration, maxIntervals int, sleep func(time.Duration)) *Drainer {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Drainer{
		processing:   processing,
		interval:     interval,
		maxIntervals: maxIntervals,
		sleep:        sleep,
	}
}

// Drain returns as soon as nothing is in flight, or after maxIntervals
// waits with requests still running.
func (d *Drainer) Drain() DrainResult {
	var res DrainResult

	for res.Waits < d.maxIntervals {
		remaining := d.processing()
		if remaining == 0 {
			break
		}
		logger.Infow("Waiting for in-flight requests",
			"remaining", remaining,
			"wait", res.Waits+1,
			"max_waits", d.maxIntervals,
		)
		d.sleep(d.interval)
		res.Waits++
		if d.onWait != nil {
			d.onWait()
		}
	}

	res.Remaining = d.processing()
	res.TimedOut = res.Remaining > 0
	return res
}
