package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyRTT_InitiatorAndResponder(t *testing.T) {
	initSide, respSide := newFakeTransportPair()

	responder := NewLatencyResponder(respSide, nil)
	respCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = responder.Run(respCtx, func(LatencySample) {}) }()

	initiator := NewLatencyInitiator(initSide, RTT, time.Millisecond, 0, false, nil)
	var samples []LatencySample
	err := initiator.Run(context.Background(), 3, func(s LatencySample) { samples = append(samples, s) })
	require.NoError(t, err)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.False(t, s.Lost, "iteration %d should not be lost", i)
		assert.Equal(t, uint32(i), s.ID)
		assert.GreaterOrEqual(t, s.Elapsed, time.Duration(0))
	}
}

func TestLatencyRTT_NoResponderReportsLoss(t *testing.T) {
	initSide, _ := newFakeTransportPair()
	initiator := NewLatencyInitiator(initSide, RTT, time.Millisecond, 0, false, nil)

	var samples []LatencySample
	err := initiator.Run(context.Background(), 1, func(s LatencySample) { samples = append(samples, s) })
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Lost)
}

func TestLatencyOneWay_ResponderComputesElapsed(t *testing.T) {
	initSide, respSide := newFakeTransportPair()

	var got []LatencySample
	responder := NewLatencyResponder(respSide, nil)
	respCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = responder.Run(respCtx, func(s LatencySample) { got = append(got, s); close(done) })
	}()

	initiator := NewLatencyInitiator(initSide, OneWay, time.Millisecond, 0, false, nil)
	err := initiator.Run(context.Background(), 1, func(LatencySample) {})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("responder never emitted a one-way sample")
	}
	require.Len(t, got, 1)
	assert.Equal(t, uint32(0), got[0].ID)
}

func TestLatencyResponder_SyncWithUnknownIDIsIgnored(t *testing.T) {
	a, b := newFakeTransportPair()
	responder := NewLatencyResponder(b, nil)

	var samples []LatencySample
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = responder.Run(ctx, func(s LatencySample) { samples = append(samples, s) }) }()

	pkt := NewTimestamped(99, OpSync, time.Now(), nil)
	b2, _ := pkt.MarshalBinary()
	_, err := a.Send(b2)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.Empty(t, samples)
}
