// Package tsnconfig is the Config Normalizer (spec §4.1): it turns a
// declarative, order-preserving document model (see doc.go) into validated,
// canonical NicConfig descriptors with derived TAS/CBS quantities.
package tsnconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

// NicConfig is the immutable, per-NIC descriptor produced by Normalize
// (spec §3). At most one of TAS or CBS is set; both may be nil.
type NicConfig struct {
	EgressQosMap map[int]map[int]int // vlanId -> socketPrio -> PCP
	TAS          *TasConfig
	CBS          *CbsConfig
}

// Registry is the result of normalizing a whole config document: one
// NicConfig per declared interface name.
type Registry map[string]*NicConfig

type options struct {
	linkInspector LinkInspector
}

// Option configures Normalize.
type Option func(*options)

// WithLinkInspector overrides the default ethtool-based link-speed
// discovery (spec §4.1), primarily for tests.
func WithLinkInspector(fn LinkInspector) Option {
	return func(o *options) { o.linkInspector = fn }
}

// Normalize parses a "nics: { <ifname>: {...}, ... }" document into a
// Registry, or returns an InvalidConfig error describing the first failure
// encountered.
func Normalize(doc *Map, opts ...Option) (Registry, error) {
	const op = "tsnconfig.Normalize"
	var o options
	for _, apply := range opts {
		apply(&o)
	}

	rawNics, err := requireKey(doc, "nics", "")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	nicsMap, err := asMap(rawNics, "nics")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}

	reg := make(Registry, nicsMap.Len())
	for _, ifname := range nicsMap.Keys() {
		raw, _ := nicsMap.Get(ifname)
		nicDoc, err := asMap(raw, "nics."+ifname)
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		nic, err := normalizeNic(ifname, nicDoc, o.linkInspector)
		if err != nil {
			return nil, err
		}
		reg[ifname] = nic
	}
	return reg, nil
}

func normalizeNic(ifname string, doc *Map, inspect LinkInspector) (*NicConfig, error) {
	const op = "tsnconfig.normalizeNic"

	rawQos, err := requireKey(doc, "egress-qos-map", "nics."+ifname)
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("egress-qos-map is not defined for %s", ifname))
	}
	qosMap, err := normalizeEgressQosMap(rawQos)
	if err != nil {
		return nil, err
	}

	_, hasTas := doc.Get("tas")
	_, hasCbs := doc.Get("cbs")
	if hasTas && hasCbs {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("%s: tas and cbs cannot both be present", ifname))
	}

	nic := &NicConfig{EgressQosMap: qosMap}

	if hasTas {
		rawTas, _ := doc.Get("tas")
		tas, err := normalizeTas(rawTas)
		if err != nil {
			return nil, err
		}
		nic.TAS = tas
	}
	if hasCbs {
		rawCbs, _ := doc.Get("cbs")
		linkSpeed := discoverLinkSpeed(inspect, ifname)
		cbs, err := normalizeCbs(rawCbs, linkSpeed)
		if err != nil {
			return nil, err
		}
		nic.CBS = cbs
	}
	return nic, nil
}

func normalizeEgressQosMap(raw any) (map[int]map[int]int, error) {
	const op = "tsnconfig.normalizeEgressQosMap"
	top, err := asMap(raw, "egress-qos-map")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	out := make(map[int]map[int]int, top.Len())
	for _, vlanKey := range top.Keys() {
		vlanID, err := asInt64(vlanKey, "egress-qos-map vlan key")
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		if vlanID < 1 || vlanID > 4094 {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("vlan id %d out of range [1,4094]", vlanID))
		}
		rawPrioMap, _ := top.Get(vlanKey)
		prioMap, err := asMap(rawPrioMap, fmt.Sprintf("egress-qos-map[%d]", vlanID))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		inner := make(map[int]int, prioMap.Len())
		for _, prioKey := range prioMap.Keys() {
			prio, err := asInt64(prioKey, "egress-qos-map prio key")
			if err != nil {
				return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
			}
			rawPcp, _ := prioMap.Get(prioKey)
			pcp, err := asInt64(rawPcp, fmt.Sprintf("egress-qos-map[%d][%d]", vlanID, prio))
			if err != nil {
				return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
			}
			if pcp < 0 || pcp > 7 {
				return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("pcp %d out of range [0,7]", pcp))
			}
			inner[int(prio)] = int(pcp)
		}
		out[int(vlanID)] = inner
	}
	return out, nil
}

// Describe renders the human-readable dump original_source/src/info.rs
// produces for cmd/tsnlib's "info" subcommand.
func (n *NicConfig) Describe() string {
	var b strings.Builder
	if n.CBS != nil {
		b.WriteString("  cbs:\n")
		for _, class := range []byte{'a', 'b'} {
			credit := n.CBS.Credits[class]
			fmt.Fprintf(&b, "    %c:\n", class)
			fmt.Fprintf(&b, "      credits: {hicredit: %d, idleslope: %d, locredit: %d, sendslope: %d}\n",
				credit.HiCredit, credit.IdleSlopeKbps, credit.LoCredit, credit.SendSlopeKbps)
			b.WriteString("      prios:\n")
			prios := append([]CbsChild(nil), n.CBS.Streams[class]...)
			sort.Slice(prios, func(i, j int) bool { return prios[i].Prio < prios[j].Prio })
			for _, p := range prios {
				fmt.Fprintf(&b, "        %d: {bandwidth: %d, class: %c, max_frame: %d}\n",
					p.Prio, p.BandwidthBps, class, p.MaxFrameBits)
			}
		}
	}
	if n.TAS != nil {
		b.WriteString("  tas:\n")
		fmt.Fprintf(&b, "    base_time: %d\n", n.TAS.BaseTime)
		b.WriteString("    schedule:\n")
		for _, sch := range n.TAS.Schedule {
			fmt.Fprintf(&b, "      - prio: %v\n", sch.Prios)
			fmt.Fprintf(&b, "        time: %d\n", sch.TimeNs)
		}
		fmt.Fprintf(&b, "    txtime_delay: %d\n", n.TAS.TxtimeDelay)
	}
	return b.String()
}
