package tsnconfig

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

// Unit grammars ported from original_source/src/cbs.rs (to_bits, to_bps) and
// original_source/src/tas.rs (to_ns). Values may arrive as bare integers
// (bits, bits-per-second, or nanoseconds respectively) or as strings carrying
// one of the SI suffixes below.
var (
	reSizeBits  = regexp.MustCompile(`^([\d_]+)\s*(|k|M|G|ki|Mi|Gi)(b|B)$`)
	reBandwidth = regexp.MustCompile(`^([\d_]+)\s*(|k|M|G)(b|B)(ps|/s)$`)
	reTime      = regexp.MustCompile(`^([\d_]+)\s*(|ns|us|µs|ms)$`)
)

func parseDecimal(op, digits string) (int64, error) {
	clean := strings.ReplaceAll(digits, "_", "")
	n, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	if n < 0 {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, err)
	}
	return n, nil
}

// ToBits parses a size/rate-in-bits value: a bare integer, or a string like
// "1_000b", "1kB", "1Gib".
func ToBits(v any) (int64, error) {
	const op = "tsnconfig.ToBits"
	if n, ok := v.(int64); ok {
		if n < 0 {
			return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
		}
		return n, nil
	}
	if n, ok := v.(int); ok {
		return ToBits(int64(n))
	}
	s, ok := v.(string)
	if !ok {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	m := reSizeBits.FindStringSubmatch(s)
	if m == nil {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	n, err := parseDecimal(op, m[1])
	if err != nil {
		return 0, err
	}
	var modMultiplier int64
	switch m[2] {
	case "":
		modMultiplier = 1
	case "k":
		modMultiplier = 1_000
	case "M":
		modMultiplier = 1_000_000
	case "G":
		modMultiplier = 1_000_000_000
	case "ki":
		modMultiplier = 1 << 10
	case "Mi":
		modMultiplier = 1 << 20
	case "Gi":
		modMultiplier = 1 << 30
	}
	bitMultiplier := int64(1)
	if m[3] == "B" {
		bitMultiplier = 8
	}
	return n * modMultiplier * bitMultiplier, nil
}

// ToBps parses a bandwidth value: a bare integer (bits/s), or a string like
// "500Mbps", "1Gb/s".
func ToBps(v any) (int64, error) {
	const op = "tsnconfig.ToBps"
	if n, ok := v.(int64); ok {
		if n < 0 {
			return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
		}
		return n, nil
	}
	if n, ok := v.(int); ok {
		return ToBps(int64(n))
	}
	s, ok := v.(string)
	if !ok {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	m := reBandwidth.FindStringSubmatch(s)
	if m == nil {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	n, err := parseDecimal(op, m[1])
	if err != nil {
		return 0, err
	}
	var modMultiplier int64
	switch m[2] {
	case "":
		modMultiplier = 1
	case "k":
		modMultiplier = 1_000
	case "M":
		modMultiplier = 1_000_000
	case "G":
		modMultiplier = 1_000_000_000
	}
	bitMultiplier := int64(1)
	if m[3] == "B" {
		bitMultiplier = 8
	}
	return n * modMultiplier * bitMultiplier, nil
}

// ToNs parses a time value: a bare integer (nanoseconds), or a string like
// "1ms", "1us", "1µs"; an empty unit suffix also means nanoseconds.
func ToNs(v any) (int64, error) {
	const op = "tsnconfig.ToNs"
	if n, ok := v.(int64); ok {
		if n < 0 {
			return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
		}
		return n, nil
	}
	if n, ok := v.(int); ok {
		return ToNs(int64(n))
	}
	s, ok := v.(string)
	if !ok {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	m := reTime.FindStringSubmatch(s)
	if m == nil {
		return 0, tsnerr.New(op, tsnerr.InvalidConfig, nil)
	}
	n, err := parseDecimal(op, m[1])
	if err != nil {
		return 0, err
	}
	var multiplier int64
	switch m[2] {
	case "", "ns":
		multiplier = 1
	case "us", "µs":
		multiplier = 1_000
	case "ms":
		multiplier = 1_000_000
	}
	return n * multiplier, nil
}
