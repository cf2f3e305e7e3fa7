package tsnadmin

import (
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
	"go.uber.org/zap"
)

// feature identifies a qdisc capability this package cares about, gated by
// minimum kernel version. Names and version floors are approximate (the
// upstream kernel changelog, not a hard spec requirement) — gating here only
// ever produces a log warning, never blocks emitting the command, per
// spec §9: the administrator's job is to emit commands, the kernel's job is
// to accept or reject them.
type feature struct {
	name    string
	version kernel.VersionInfo
}

var (
	featureTaprio     = feature{name: "taprio", version: kernel.VersionInfo{Kernel: 4, Major: 19, Minor: 0}}
	featureMqprio     = feature{name: "mqprio", version: kernel.VersionInfo{Kernel: 3, Major: 14, Minor: 0}}
	featureCbsOffload = feature{name: "cbs offload", version: kernel.VersionInfo{Kernel: 4, Major: 15, Minor: 0}}
)

var (
	runningKernelOnce sync.Once
	runningKernel     *kernel.VersionInfo
)

func currentKernel() *kernel.VersionInfo {
	runningKernelOnce.Do(func() {
		v, err := kernel.GetKernelVersion()
		if err == nil {
			runningKernel = v
		}
	})
	return runningKernel
}

// warnIfKernelTooOld logs a warning if the running kernel predates f's
// version floor. If the kernel version can't be determined (non-Linux,
// permission error) it stays silent rather than guessing.
func (a *Administrator) warnIfKernelTooOld(f feature) {
	v := currentKernel()
	if v == nil {
		return
	}
	if kernel.CompareKernelVersion(*v, f.version) < 0 {
		a.log.Warn("tsnadmin: running kernel predates feature, qdisc command may be rejected",
			zap.String("feature", f.name),
			zap.Int("running_kernel", v.Kernel), zap.Int("running_major", v.Major), zap.Int("running_minor", v.Minor),
			zap.Int("required_kernel", f.version.Kernel), zap.Int("required_major", f.version.Major), zap.Int("required_minor", f.version.Minor),
		)
	}
}
