package tsnconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

func TestToBits(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "bare int64 is bits", in: int64(42), want: 42},
		{name: "bare int is bits", in: 64, want: 64},
		{name: "decimal bits suffix", in: "1500b", want: 1500},
		{name: "decimal bytes suffix", in: "1500B", want: 12000},
		{name: "kilo bits", in: "1kb", want: 1_000},
		{name: "kibi bytes", in: "1kiB", want: 1024 * 8},
		{name: "giga bytes", in: "1GB", want: 1_000_000_000 * 8},
		{name: "underscore grouping", in: "1_500b", want: 1500},
		{name: "negative int rejected", in: int64(-1), wantErr: true},
		{name: "garbage string rejected", in: "not-a-size", wantErr: true},
		{name: "wrong type rejected", in: 3.14, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBits(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, tsnerr.Is(err, tsnerr.InvalidConfig))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBps(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "bare int is bps", in: 1000, want: 1000},
		{name: "megabits per second", in: "500Mbps", want: 500_000_000},
		{name: "gigabits per second alt suffix", in: "1Gb/s", want: 1_000_000_000},
		{name: "megabytes per second", in: "10MBps", want: 80_000_000},
		{name: "no prefix bare bits", in: "100bps", want: 100},
		{name: "binary prefix not valid for bandwidth", in: "1kibps", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBps(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToNs(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "bare int is ns", in: 500, want: 500},
		{name: "explicit ns suffix", in: "500ns", want: 500},
		{name: "microseconds ascii", in: "2us", want: 2000},
		{name: "microseconds mu", in: "2µs", want: 2000},
		{name: "milliseconds", in: "3ms", want: 3_000_000},
		{name: "garbage rejected", in: "3fortnights", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToNs(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
