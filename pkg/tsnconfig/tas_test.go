package tsnconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqOf(vals ...any) []any { return vals }

func scheduleEntry(timeNs int64, prios ...any) *Map {
	m := NewMap()
	m.Set("time", timeNs)
	m.Set("prio", seqOf(prios...))
	return m
}

func TestNormalizeTas(t *testing.T) {
	doc := NewMap()
	doc.Set("schedule", seqOf(
		scheduleEntry(100_000, int64(5), int64(6)),
		scheduleEntry(200_000, int64(-1)),
	))
	doc.Set("txtime_delay", int64(50_000))

	tas, err := normalizeTas(doc)
	require.NoError(t, err)

	assert.Equal(t, int64(0), tas.BaseTime)
	assert.Equal(t, int64(50_000), tas.TxtimeDelay)
	assert.Equal(t, 3, tas.NumTc, "prios 5 and 6 each get their own class, plus the synthetic best-effort class")
	assert.Len(t, tas.Queues, tas.NumTc)
	for _, q := range tas.Queues {
		assert.Equal(t, "1@0", q)
	}
	assert.Len(t, tas.SchedEntries, 2)
	// entry 0 opens both class-0 (prio 5) and class-1 (prio 6)
	assert.Equal(t, uint32(0b011), tas.SchedEntries[0].Mask)
	// entry 1 opens only the synthetic best-effort class (prio -1), which is class 2
	assert.Equal(t, uint32(0b100), tas.SchedEntries[1].Mask)
}

func TestNormalizeTas_PrioZeroGetsOwnClass(t *testing.T) {
	doc := NewMap()
	doc.Set("schedule", seqOf(scheduleEntry(1000, int64(0))))
	doc.Set("txtime_delay", int64(0))

	tas, err := normalizeTas(doc)
	require.NoError(t, err)
	// prio 0 is class 0, best-effort is class 1: schedule mask is 0b01, not 0.
	assert.Equal(t, uint32(0b01), tas.SchedEntries[0].Mask)
	assert.Equal(t, 0, tas.TcMap[0])
}

func TestNormalizeTas_RejectsNonPositiveTime(t *testing.T) {
	doc := NewMap()
	doc.Set("schedule", seqOf(scheduleEntry(0, int64(1))))
	doc.Set("txtime_delay", int64(0))

	_, err := normalizeTas(doc)
	assert.Error(t, err)
}

func TestNormalizeTas_RejectsOutOfRangePrio(t *testing.T) {
	doc := NewMap()
	doc.Set("schedule", seqOf(scheduleEntry(1000, int64(16))))
	doc.Set("txtime_delay", int64(0))

	_, err := normalizeTas(doc)
	assert.Error(t, err)
}

func TestNormalizeTas_MissingSchedule(t *testing.T) {
	doc := NewMap()
	doc.Set("txtime_delay", int64(0))

	_, err := normalizeTas(doc)
	assert.Error(t, err)
}

func TestSynthTcMap_FirstSeenOrder(t *testing.T) {
	classOf, tcMap, numTc := synthTcMap([]int{7, 3, 7, 5})
	assert.Equal(t, 4, numTc) // 7, 3, 5, best-effort
	assert.Equal(t, 0, classOf[7])
	assert.Equal(t, 1, classOf[3])
	assert.Equal(t, 2, classOf[5])
	assert.Equal(t, 3, classOf[-1])
	for prio := 0; prio < 16; prio++ {
		want := 3
		switch prio {
		case 7:
			want = 0
		case 3:
			want = 1
		case 5:
			want = 2
		}
		assert.Equal(t, want, tcMap[prio], "prio %d", prio)
	}
}
