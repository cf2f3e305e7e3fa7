package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughput_FullSession(t *testing.T) {
	initSide, respSide := newFakeTransportPair()

	var summaries []Summary
	responder := NewThroughputResponder(respSide, nil, func(s Summary) { summaries = append(summaries, s) }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = responder.Run(ctx) }()

	initiator := NewThroughputInitiator(initSide, 10_000_000, 64, nil)
	summary, err := initiator.Run(context.Background(), 200*time.Millisecond, false)
	require.NoError(t, err)
	assert.Greater(t, summary.PacketCount, uint64(0))
	assert.Greater(t, summary.TotalBytes, uint64(0))

	// give the responder a moment to process REQ_END before asserting.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, summaries, 1)
	assert.Equal(t, summary.PacketCount, summaries[0].PacketCount)
}

func TestThroughput_NoResponderFailsHandshake(t *testing.T) {
	initSide, _ := newFakeTransportPair()
	initiator := NewThroughputInitiator(initSide, 10_000_000, 64, nil)
	_, err := initiator.Run(context.Background(), 50*time.Millisecond, false)
	assert.Error(t, err)
}

func TestThroughput_ReqResultReturnsRemoteCounters(t *testing.T) {
	initSide, respSide := newFakeTransportPair()
	responder := NewThroughputResponder(respSide, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = responder.Run(ctx) }()

	initiator := NewThroughputInitiator(initSide, 10_000_000, 64, nil)
	summary, err := initiator.Run(context.Background(), 100*time.Millisecond, true)
	require.NoError(t, err)
	assert.Greater(t, summary.PacketCount, uint64(0))
}

func TestSessionCounters_TickComputesDeltasNotTotals(t *testing.T) {
	var c sessionCounters
	c.reset()
	c.record(1, 100)
	c.record(2, 100)
	pkts, ids, bytes := c.tick()
	assert.Equal(t, uint64(2), pkts)
	assert.Equal(t, uint32(2), ids)
	assert.Equal(t, uint64(200), bytes)

	c.record(4, 100)
	pkts, ids, bytes = c.tick()
	assert.Equal(t, uint64(1), pkts)
	assert.Equal(t, uint32(2), ids)
	assert.Equal(t, uint64(100), bytes)
}

func TestSummary_BitsPerSecond(t *testing.T) {
	s := Summary{TotalBytes: 1_000_000, Elapsed: 3 * time.Second}
	assert.InDelta(t, 2_666_666.67, s.BitsPerSecond(), 1)
}
