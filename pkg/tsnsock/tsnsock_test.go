package tsnsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func unixTimespec(sec, nsec int64) unix.Timespec {
	return unix.Timespec{Sec: sec, Nsec: nsec}
}

func TestHtons(t *testing.T) {
	// 0x0800 (ETH_P_IP) in network order is 0x0008.
	assert.Equal(t, uint16(0x0008), htons(0x0800))
	assert.Equal(t, uint16(0x0000), htons(0x0000))
}

func TestDecodeScmTimestamping_TooShort(t *testing.T) {
	_, ok := decodeScmTimestamping(make([]byte, 10))
	assert.False(t, ok)
}

func TestScmTimestamping_PrefersRawOverLegacyOverSoftware(t *testing.T) {
	ts := scmTimestamping{
		Software:     unixTimespec(1, 0),
		DeprecatedHW: unixTimespec(2, 0),
		RawHardware:  unixTimespec(3, 0),
	}
	when, ok := ts.best()
	assert.True(t, ok)
	assert.Equal(t, int64(3), when.Unix())
}

func TestScmTimestamping_FallsBackToLegacyThenSoftware(t *testing.T) {
	ts := scmTimestamping{Software: unixTimespec(1, 0)}
	when, ok := ts.best()
	assert.True(t, ok)
	assert.Equal(t, int64(1), when.Unix())

	ts = scmTimestamping{DeprecatedHW: unixTimespec(2, 0)}
	when, ok = ts.best()
	assert.True(t, ok)
	assert.Equal(t, int64(2), when.Unix())
}

func TestScmTimestamping_AllZeroIsAbsent(t *testing.T) {
	var ts scmTimestamping
	_, ok := ts.best()
	assert.False(t, ok)
}

func TestVlanIfaceName_TruncatesLongNic(t *testing.T) {
	s := &Socket{nic: "reallylongifname", vlanID: 42}
	assert.Equal(t, "reallylong.42", s.vlanIfaceName())
}

func TestVlanIfaceName_ShortNicUnchanged(t *testing.T) {
	s := &Socket{nic: "eth0", vlanID: 7}
	assert.Equal(t, "eth0.7", s.vlanIfaceName())
}
