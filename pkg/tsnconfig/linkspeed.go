package tsnconfig

import (
	"context"
	"os/exec"
	"regexp"
	"time"
)

const defaultLinkSpeedBps int64 = 1_000_000_000 // 1 Gb/s fallback, spec §4.1

var reEthtoolSpeed = regexp.MustCompile(`Speed:\s*(\d+(?:|k|M|G)b[p/]?s)`)

// LinkInspector discovers the current link speed, in bits per second, of a
// NIC. The default implementation shells out to ethtool, matching
// original_source/src/cbs.rs::get_linkspeed; a caller may substitute any
// other implementation (e.g. a fake in tests).
type LinkInspector func(ctx context.Context, ifname string) (int64, error)

// EthtoolLinkSpeed runs `ethtool <ifname>`, parses the "Speed: <value>"
// line, and returns it in bits per second. Any failure (missing binary,
// non-zero exit, unparsable output) is reported to the caller, who per
// spec §4.1 should fall back to 1 Gb/s.
func EthtoolLinkSpeed(ctx context.Context, ifname string) (int64, error) {
	out, err := exec.CommandContext(ctx, "ethtool", ifname).Output()
	if err != nil {
		return 0, err
	}
	m := reEthtoolSpeed.FindSubmatch(out)
	if m == nil {
		return 0, errNoSpeedLine
	}
	return ToBps(string(m[1]))
}

var errNoSpeedLine = &noSpeedLineError{}

type noSpeedLineError struct{}

func (*noSpeedLineError) Error() string { return "ethtool output has no Speed: line" }

// discoverLinkSpeed runs inspect with a short timeout and falls back to
// defaultLinkSpeedBps on any error, per spec §4.1.
func discoverLinkSpeed(inspect LinkInspector, ifname string) int64 {
	if inspect == nil {
		inspect = EthtoolLinkSpeed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	speed, err := inspect(ctx, ifname)
	if err != nil {
		return defaultLinkSpeedBps
	}
	return speed
}
