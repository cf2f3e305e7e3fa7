package sleepclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepUntil_PastDeadlineReturnsImmediately(t *testing.T) {
	c := &Clock{errRead: time.Microsecond, errSleep: time.Microsecond}
	start := time.Now()
	c.SleepUntil(start.Add(-time.Hour))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestSleepUntil_SleepsPastEntryButNotPastTarget(t *testing.T) {
	c := &Clock{errRead: time.Microsecond, errSleep: time.Millisecond}
	target := time.Now().Add(50 * time.Millisecond)
	c.SleepUntil(target)
	assert.False(t, time.Now().Before(target.Add(-time.Millisecond)))
	assert.Less(t, time.Since(target), 50*time.Millisecond)
}

func TestCalibrate_ProducesNonNegativeErrSleep(t *testing.T) {
	var c Clock
	c.calibrate()
	assert.GreaterOrEqual(t, c.errSleep, time.Duration(0))
	assert.GreaterOrEqual(t, c.errRead, time.Duration(0))
}
