package tsnadmin

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
)

type fakeRunner struct {
	calls [][]string
	fail  int // 1-based index of the call to fail, 0 means never
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	full := append([]string{name}, args...)
	f.calls = append(f.calls, full)
	if f.fail != 0 && len(f.calls) == f.fail {
		return []byte("synthetic failure"), assert.AnError
	}
	return nil, nil
}

func TestVlanName_TruncatesLongIfname(t *testing.T) {
	assert.Equal(t, "enp6s0f0.5", VlanName("enp6s0f0", 5))
	assert.Equal(t, "enp6s0f0np.5", VlanName("enp6s0f0np0", 5))
}

func TestApply_Cbs_CommandSequence(t *testing.T) {
	fr := &fakeRunner{}
	a := New(nil).WithRunner(fr)

	nic := &tsnconfig.NicConfig{
		EgressQosMap: map[int]map[int]int{10: {5: 3}},
		CBS: &tsnconfig.CbsConfig{
			TcMap:  [16]int{},
			NumTc:  3,
			Queues: []string{"1@0", "1@1", "1@2"},
			Credits: map[byte]tsnconfig.CbsCredit{
				'a': {IdleSlopeKbps: 10000, SendSlopeKbps: -90000, HiCredit: 150, LoCredit: -1350},
				'b': {IdleSlopeKbps: 20000, SendSlopeKbps: -80000, HiCredit: 300, LoCredit: -1200},
			},
			Streams: map[byte][]tsnconfig.CbsChild{'a': nil, 'b': nil},
		},
	}

	err := a.Apply(context.Background(), "eth0", 10, nic)
	require.NoError(t, err)
	require.Len(t, fr.calls, 5) // link add, link set up, mqprio, cbs a, cbs b

	assert.Equal(t, []string{"ip", "link", "add", "link", "eth0", "name", "eth0.10", "type", "vlan", "id", "10", "egress-qos-map", "3:5"}, fr.calls[0])
	assert.Equal(t, []string{"ip", "link", "set", "up", "eth0.10"}, fr.calls[1])
	assert.Contains(t, strings.Join(fr.calls[2], " "), "mqprio num_tc 3")
	assert.Contains(t, strings.Join(fr.calls[3], " "), "parent 100:1")
	assert.Contains(t, strings.Join(fr.calls[4], " "), "parent 100:2")
}

func TestApply_Tas_CommandSequence(t *testing.T) {
	fr := &fakeRunner{}
	a := New(nil).WithRunner(fr)

	nic := &tsnconfig.NicConfig{
		EgressQosMap: map[int]map[int]int{20: {}},
		TAS: &tsnconfig.TasConfig{
			TxtimeDelay: 500000,
			BaseTime:    0,
			NumTc:       2,
			Queues:      []string{"1@0", "1@0"},
			SchedEntries: []tsnconfig.SchedEntry{
				{Mask: 0b1, TimeNs: 100000},
				{Mask: 0b10, TimeNs: 200000},
				{Mask: 0b1111, TimeNs: 300000},
			},
		},
	}

	err := a.Apply(context.Background(), "eth1", 20, nic)
	require.NoError(t, err)
	require.Len(t, fr.calls, 3)
	joined := strings.Join(fr.calls[2], " ")
	assert.Contains(t, joined, "taprio num_tc 2")
	assert.Contains(t, joined, "sched-entry S 1 100000")
	assert.Contains(t, joined, "sched-entry S 2 200000")
	// Mask 0b1111 is decimal 15: must never render as hex ("f"), which
	// real tc/iproute2 would reject or misparse as a different value.
	assert.Contains(t, joined, "sched-entry S 15 300000")
	assert.NotContains(t, joined, "sched-entry S f ")
	assert.Contains(t, joined, "txtime-delay 500000")
}

func TestApply_RejectsOutOfRangeVlanId(t *testing.T) {
	a := New(nil).WithRunner(&fakeRunner{})
	err := a.Apply(context.Background(), "eth0", 4095, &tsnconfig.NicConfig{})
	assert.Error(t, err)
}

func TestApply_NoRollbackOnPartialFailure(t *testing.T) {
	fr := &fakeRunner{fail: 2} // "ip link set up" fails
	a := New(nil).WithRunner(fr)

	nic := &tsnconfig.NicConfig{EgressQosMap: map[int]map[int]int{30: {}}}
	err := a.Apply(context.Background(), "eth2", 30, nic)
	require.Error(t, err)
	// exactly the two attempted calls ran; the first (link add) was not
	// undone, matching spec's documented no-rollback behavior.
	assert.Len(t, fr.calls, 2)
}

func TestRevert_CommandSequence(t *testing.T) {
	fr := &fakeRunner{}
	a := New(nil).WithRunner(fr)

	err := a.Revert(context.Background(), "eth0", 10)
	require.NoError(t, err)
	require.Len(t, fr.calls, 2)
	assert.Equal(t, []string{"ip", "link", "del", "eth0.10"}, fr.calls[0])
	assert.Equal(t, []string{"tc", "qdisc", "delete", "dev", "eth0", "root"}, fr.calls[1])
}
