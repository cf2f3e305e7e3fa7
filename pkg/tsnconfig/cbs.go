package tsnconfig

import (
	"fmt"
	"math"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

// CbsChild is one priority's declared Credit-Based-Shaper stream.
type CbsChild struct {
	Prio         int
	MaxFrameBits int64
	BandwidthBps int64
	Class        byte // 'a' or 'b'
}

// CbsCredit is the derived per-class shaper state fed to "tc qdisc ... cbs".
// IdleSlopeKbps/SendSlopeKbps are already floor-divided by 1000 (spec §4.1:
// "Report idleSlope and sendSlope to the qdisc administrator in kbit/s").
type CbsCredit struct {
	IdleSlopeKbps int64
	SendSlopeKbps int64
	HiCredit      int64
	LoCredit      int64
}

// CbsConfig is the normalized, immutable descriptor for an 802.1Qav
// Credit-Based Shaper on one NIC (spec §3).
type CbsConfig struct {
	TcMap   [16]int
	NumTc   int
	Queues  []string
	Credits map[byte]CbsCredit
	Streams map[byte][]CbsChild
}

func ceilDiv(numerator, denominator float64) int64 {
	return int64(math.Ceil(numerator / denominator))
}

// calcCredits implements spec §4.1's CBS credit derivation formulas exactly,
// ported from original_source/src/cbs.rs::calc_credits.
func calcCredits(streamsA, streamsB []CbsChild, linkSpeed int64) (a, b CbsCredit) {
	var idleSlopeA, maxFrameA int64
	for _, s := range streamsA {
		idleSlopeA += s.BandwidthBps
		maxFrameA += s.MaxFrameBits
	}
	sendSlopeA := idleSlopeA - linkSpeed

	var idleSlopeB, maxFrameB int64
	for _, s := range streamsB {
		idleSlopeB += s.BandwidthBps
		maxFrameB += s.MaxFrameBits
	}
	sendSlopeB := idleSlopeB - linkSpeed

	a = CbsCredit{
		IdleSlopeKbps: idleSlopeA / 1000,
		SendSlopeKbps: sendSlopeA / 1000,
		HiCredit:      ceilDiv(float64(idleSlopeA)*float64(maxFrameA), float64(linkSpeed)),
		LoCredit:      ceilDiv(float64(sendSlopeA)*float64(maxFrameA), float64(linkSpeed)),
	}
	b = CbsCredit{
		IdleSlopeKbps: idleSlopeB / 1000,
		SendSlopeKbps: sendSlopeB / 1000,
		HiCredit: ceilDiv(
			float64(idleSlopeB)*(float64(maxFrameB)/float64(linkSpeed-idleSlopeA)+float64(maxFrameA)/float64(linkSpeed)),
			1,
		),
		LoCredit: ceilDiv(float64(sendSlopeB)*float64(maxFrameB), float64(linkSpeed)),
	}
	return a, b
}

func normalizeCbs(doc any, linkSpeed int64) (*CbsConfig, error) {
	const op = "tsnconfig.normalizeCbs"
	m, err := asMap(doc, "cbs")
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}

	streams := map[byte][]CbsChild{'a': nil, 'b': nil}
	var listed []int
	seen := make(map[int]bool)

	for _, key := range m.Keys() {
		prio64, err := asInt64WithStringFallback(key)
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("cbs priority key %q: %w", key, err))
		}
		if prio64 < 0 || prio64 > 15 {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("cbs priority %d out of range [0,15]", prio64))
		}
		prio := int(prio64)
		if !seen[prio] {
			seen[prio] = true
			listed = append(listed, prio)
		}

		raw, _ := m.Get(key)
		entryMap, err := asMap(raw, fmt.Sprintf("cbs[%d]", prio))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}

		rawMaxFrame, err := requireKey(entryMap, "max_frame", fmt.Sprintf("cbs[%d]", prio))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		maxFrame, err := ToBits(rawMaxFrame)
		if err != nil {
			return nil, err
		}

		rawBandwidth, err := requireKey(entryMap, "bandwidth", fmt.Sprintf("cbs[%d]", prio))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		bandwidth, err := ToBps(rawBandwidth)
		if err != nil {
			return nil, err
		}

		rawClass, err := requireKey(entryMap, "class", fmt.Sprintf("cbs[%d]", prio))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		classStr, err := asString(rawClass, fmt.Sprintf("cbs[%d].class", prio))
		if err != nil {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, err)
		}
		if classStr != "a" && classStr != "b" {
			return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("cbs[%d].class must be 'a' or 'b', got %q", prio, classStr))
		}
		class := classStr[0]

		streams[class] = append(streams[class], CbsChild{
			Prio:         prio,
			MaxFrameBits: maxFrame,
			BandwidthBps: bandwidth,
			Class:        class,
		})
	}

	classOf, tcMap, numTc := synthTcMap(listed)
	_ = classOf

	queues := make([]string, numTc)
	for i := range queues {
		queues[i] = fmt.Sprintf("1@%d", i)
	}

	creditA, creditB := calcCredits(streams['a'], streams['b'], linkSpeed)

	return &CbsConfig{
		TcMap:   tcMap,
		NumTc:   numTc,
		Queues:  queues,
		Credits: map[byte]CbsCredit{'a': creditA, 'b': creditB},
		Streams: streams,
	}, nil
}

// asInt64WithStringFallback parses a map key that is expected to be a
// small non-negative priority but may have arrived as either a YAML integer
// key (represented as a decimal string by the document-model builder) or a
// plain string.
func asInt64WithStringFallback(key string) (int64, error) {
	return asInt64(key, "cbs key")
}
