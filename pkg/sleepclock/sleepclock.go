// Package sleepclock is the Precision Sleep component (spec §4.6):
// sleepUntil blocks until the wall clock reaches a target instant,
// compensating for the measured cost of reading the clock and the
// measured oversleep of the scheduler's sleep call.
package sleepclock

import (
	"sync"
	"time"
)

// Clock calibrates itself on first use and then answers SleepUntil calls
// against that calibration. The zero value is ready to use.
type Clock struct {
	once     sync.Once
	errRead  time.Duration
	errSleep time.Duration
}

const calibrationSamples = 10

// calibrate measures ERR_READ (mean cost of back-to-back clock reads) and
// ERR_SLEEP (mean oversleep of a 1s sleep), mirroring
// original_source/src/time.rs::tsn_time_analyze's two-pass measurement.
func (c *Clock) calibrate() {
	start := time.Now()
	for i := 0; i < calibrationSamples-1; i++ {
		_ = time.Now()
	}
	end := time.Now()
	c.errRead = end.Sub(start) / calibrationSamples

	var total time.Duration
	for i := 0; i < calibrationSamples; i++ {
		before := time.Now()
		time.Sleep(time.Second)
		total += time.Since(before) - time.Second
	}
	c.errSleep = total / calibrationSamples
	if c.errSleep < 0 {
		c.errSleep = 0
	}
}

// SleepUntil blocks until the wall clock reaches wallTime, never sleeping
// past it. If wallTime is already in the past, it returns immediately.
func (c *Clock) SleepUntil(wallTime time.Time) {
	c.once.Do(c.calibrate)

	now := time.Now()
	delta := wallTime.Sub(now)
	if delta <= 0 {
		return
	}

	if delta > c.errSleep {
		time.Sleep(delta - c.errSleep)
	}

	for {
		now = time.Now()
		delta = wallTime.Sub(now)
		if delta < c.errRead {
			return
		}
	}
}
