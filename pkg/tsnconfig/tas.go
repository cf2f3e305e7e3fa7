package tsnconfig

import (
	"fmt"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

// TasScheduleEntry is one gate-control-list entry of a Time-Aware Shaper
// schedule: open the traffic classes backing prios for time_ns nanoseconds.
type TasScheduleEntry struct {
	TimeNs int64
	Prios  []int
}

// SchedEntry is a TasScheduleEntry lowered to the bitmask form the taprio
// qdisc's "sched-entry S <mask> <time>" syntax expects.
type SchedEntry struct {
	Mask   uint32
	TimeNs int64
}

// TasConfig is the normalized, immutable descriptor for an 802.1Qbv
// Time-Aware Shaper on one NIC (spec §3).
type TasConfig struct {
	TxtimeDelay  int64
	BaseTime     int64
	Schedule     []TasScheduleEntry
	TcMap        [16]int
	NumTc        int
	Queues       []string
	SchedEntries []SchedEntry
}

// synthTcMap builds the dense 0..16 traffic-class map plus NumTc from a
// first-seen-order priority list, appending the synthetic best-effort class
// (key -1) after the listed priorities, matching spec §4.1's "tcMap
// construction".
func synthTcMap(listed []int) (classOf map[int]int, tcMap [16]int, numTc int) {
	classOf = make(map[int]int, len(listed)+1)
	for _, p := range listed {
		if _, ok := classOf[p]; !ok {
			classOf[p] = len(classOf)
		}
	}
	bestEffort := len(classOf)
	classOf[-1] = bestEffort
	numTc = len(classOf)
	for i := 0; i < 16; i++ {
		if c, ok := classOf[i]; ok {
			tcMap[i] = c
		} else {
			tcMap[i] = bestEffort
		}
	}
	return classOf, tcMap, numTc
}

func normalizeTas(doc any) (*TasConfig, error) {
	const op = "tsnconfig.normalizeTas"
	m, err := asMap(doc, "tas")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}

	rawSchedule, err := requireKey(m, "schedule", "tas")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	seq, err := asSeq(rawSchedule, "tas.schedule")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}

	var schedule []TasScheduleEntry
	var listed []int
	seen := make(map[int]bool)
	for i, raw := range seq {
		path := fmt.Sprintf("tas.schedule[%d]", i)
		entryMap, err := asMap(raw, path)
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		rawTime, err := requireKey(entryMap, "time", path)
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		timeNs, err := ToNs(rawTime)
		if err != nil {
			return nil, err
		}
		if timeNs <= 0 {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("%s.time must be > 0", path))
		}
		rawPrio, err := requireKey(entryMap, "prio", path)
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		prioSeq, err := asSeq(rawPrio, path+".prio")
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		var prios []int
		for _, rp := range prioSeq {
			p, err := asInt64(rp, path+".prio")
			if err != nil {
				return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
			}
			if p < -1 || p > 15 {
				return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("%s.prio value %d out of range [-1,15]", path, p))
			}
			prios = append(prios, int(p))
			if p >= 0 && !seen[int(p)] {
				seen[int(p)] = true
				listed = append(listed, int(p))
			}
		}
		schedule = append(schedule, TasScheduleEntry{TimeNs: timeNs, Prios: prios})
	}

	classOf, tcMap, numTc := synthTcMap(listed)

	queues := make([]string, numTc)
	for i := range queues {
		queues[i] = "1@0"
	}

	schedEntries := make([]SchedEntry, len(schedule))
	for i, sch := range schedule {
		var mask uint32
		for _, p := range sch.Prios {
			mask |= 1 << uint(classOf[p])
		}
		schedEntries[i] = SchedEntry{Mask: mask, TimeNs: sch.TimeNs}
	}

	rawDelay, err := requireKey(m, "txtime_delay", "tas")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	txtimeDelay, err := ToNs(rawDelay)
	if err != nil {
		return nil, err
	}

	return &TasConfig{
		TxtimeDelay:  txtimeDelay,
		BaseTime:     0, // spec §9: ambiguous in the original, kept as "kernel decides"
		Schedule:     schedule,
		TcMap:        tcMap,
		NumTc:        numTc,
		Queues:       queues,
		SchedEntries: schedEntries,
	}, nil
}
