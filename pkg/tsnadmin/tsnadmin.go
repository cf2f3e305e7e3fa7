// Package tsnadmin is the Link/Qdisc Administrator (spec §4.2): it turns a
// normalized tsnconfig.NicConfig into the ip(8)/tc(8) invocations that bring
// a VLAN sub-interface and its qdisc hierarchy up or tear them back down.
package tsnadmin

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnerr"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

const rootHandle = 100

// Runner executes one assembled command and returns its combined
// stdout+stderr on failure. The default is realRunner; tests substitute a
// fake that records invocations instead of touching the network namespace.
type Runner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

type realRunner struct{}

func (realRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Administrator applies and reverts the link/qdisc state for VLAN
// sub-interfaces on one or more NICs.
type Administrator struct {
	run Runner
	log *zap.Logger
}

// New returns an Administrator. A nil logger is replaced with a no-op one.
func New(log *zap.Logger) *Administrator {
	return &Administrator{run: realRunner{}, log: tsnlog.OrNop(log)}
}

// WithRunner overrides the command runner, for tests.
func (a *Administrator) WithRunner(r Runner) *Administrator {
	a.run = r
	return a
}

func (a *Administrator) exec(ctx context.Context, op string, args []string) error {
	a.log.Debug("tsnadmin: running command", zap.String("cmd", strings.Join(append([]string{args[0]}, args[1:]...), " ")))
	out, err := a.run.Run(ctx, args[0], args[1:])
	if err != nil {
		return tsnerr.New(op, tsnerr.LinkAdminFailed, fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out))))
	}
	return nil
}

// VlanName returns the sub-interface name for ifname/vlanID, truncating
// ifname to 10 bytes first so the result always fits IFNAMSIZ (16 bytes),
// matching original_source/src/vlan.rs::get_vlan_name.
func VlanName(ifname string, vlanID int) string {
	base := ifname
	if len(base) > 10 {
		base = base[:10]
	}
	return fmt.Sprintf("%s.%d", base, vlanID)
}

// Apply brings up the VLAN sub-interface ifname.vlanID and, if cfg carries a
// TAS or CBS descriptor, the matching qdisc hierarchy on the parent ifname.
// Apply does not roll back partial failures (spec §9): if a later step
// fails, earlier steps remain applied and the returned error names the step
// that failed via tsnerr.Error.Op.
func (a *Administrator) Apply(ctx context.Context, ifname string, vlanID int, cfg *tsnconfig.NicConfig) error {
	const op = "tsnadmin.Apply"
	if vlanID < 1 || vlanID > 4094 {
		return tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("vlan id %d out of range [1,4094]", vlanID))
	}
	name := VlanName(ifname, vlanID)

	qosMap := cfg.EgressQosMap[vlanID]
	linkAddArgs := []string{"ip", "link", "add", "link", ifname, "name", name, "type", "vlan", "id", fmt.Sprint(vlanID), "egress-qos-map"}
	prios := make([]int, 0, len(qosMap))
	for prio := range qosMap {
		prios = append(prios, prio)
	}
	sort.Ints(prios)
	for _, prio := range prios {
		linkAddArgs = append(linkAddArgs, fmt.Sprintf("%d:%d", qosMap[prio], prio))
	}
	if err := a.exec(ctx, op+".linkAdd", linkAddArgs); err != nil {
		return err
	}

	if err := a.exec(ctx, op+".linkSetUp", []string{"ip", "link", "set", "up", name}); err != nil {
		return err
	}

	if cfg.TAS != nil {
		a.warnIfKernelTooOld(featureTaprio)
		if err := a.exec(ctx, op+".taprio", tasCommand(ifname, cfg.TAS)); err != nil {
			return err
		}
	}
	if cfg.CBS != nil {
		a.warnIfKernelTooOld(featureMqprio)
		cmds := cbsCommands(ifname, cfg.CBS)
		for i, cmd := range cmds {
			if i > 0 {
				a.warnIfKernelTooOld(featureCbsOffload)
			}
			if err := a.exec(ctx, op+".cbs", cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

// Revert tears down the VLAN sub-interface ifname.vlanID and then the root
// qdisc hierarchy on ifname, in that order.
func (a *Administrator) Revert(ctx context.Context, ifname string, vlanID int) error {
	const op = "tsnadmin.Revert"
	name := VlanName(ifname, vlanID)
	if err := a.exec(ctx, op+".linkDel", []string{"ip", "link", "del", name}); err != nil {
		return err
	}
	if err := a.exec(ctx, op+".qdiscDel", []string{"tc", "qdisc", "delete", "dev", ifname, "root"}); err != nil {
		return err
	}
	return nil
}

// tasCommand builds the single "tc qdisc replace ... taprio" argv for a TAS
// descriptor, matching original_source/src/vlan.rs::setup_tas.
func tasCommand(ifname string, tas *tsnconfig.TasConfig) []string {
	args := []string{
		"tc", "qdisc", "replace", "dev", ifname, "parent", "root", "handle", fmt.Sprintf("%d", rootHandle),
		"taprio", "num_tc", fmt.Sprint(tas.NumTc), "map",
	}
	for i := 0; i < 16; i++ {
		args = append(args, fmt.Sprint(tas.TcMap[i]))
	}
	args = append(args, "queues")
	args = append(args, tas.Queues...)
	args = append(args, "base-time", fmt.Sprint(tas.BaseTime))
	for _, e := range tas.SchedEntries {
		args = append(args, "sched-entry", fmt.Sprintf("S %d %d", e.Mask, e.TimeNs))
	}
	args = append(args, "flags", "0x2", "txtime-delay", fmt.Sprint(tas.TxtimeDelay))
	return args
}

// cbsCommands builds the "mqprio" root command followed by exactly two "cbs"
// replace commands, one per shaped class — class 'a' always lands on queue
// 1, class 'b' always on queue 2, regardless of how tcMap assigned traffic
// classes to priorities — matching
// original_source/src/vlan.rs::setup_cbs/cbs.rs::normalise_cbs, whose
// `children` map is fixed at keys {1: credits_a, 2: credits_b}.
func cbsCommands(ifname string, cbs *tsnconfig.CbsConfig) [][]string {
	args := []string{
		"tc", "qdisc", "add", "dev", ifname, "parent", "root", "handle", fmt.Sprintf("%d", rootHandle),
		"mqprio", "num_tc", fmt.Sprint(cbs.NumTc), "map",
	}
	for i := 0; i < 16; i++ {
		args = append(args, fmt.Sprint(cbs.TcMap[i]))
	}
	args = append(args, "queues")
	args = append(args, cbs.Queues...)
	args = append(args, "hw", "0")
	cmds := [][]string{args}

	classQueue := map[byte]int{'a': 1, 'b': 2}
	for _, class := range []byte{'a', 'b'} {
		credit := cbs.Credits[class]
		qid := classQueue[class]
		handle := qid * 1111
		cmds = append(cmds, []string{
			"tc", "qdisc", "replace", "dev", ifname,
			"parent", fmt.Sprintf("%d:%d", rootHandle, qid),
			"handle", fmt.Sprint(handle),
			"cbs",
			"idleslope", fmt.Sprint(credit.IdleSlopeKbps),
			"sendslope", fmt.Sprint(credit.SendSlopeKbps),
			"hicredit", fmt.Sprint(credit.HiCredit),
			"locredit", fmt.Sprint(credit.LoCredit),
			"offload", "1",
		})
	}
	return cmds
}
