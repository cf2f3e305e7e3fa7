package perf

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/tsnkit/tsnkit/pkg/sleepclock"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

// LatencyMode selects which of the two latency measurements spec §4.5.1
// describes an Initiator runs.
type LatencyMode int

const (
	RTT LatencyMode = iota
	OneWay
)

// LatencySample is one measured (or lost) iteration.
type LatencySample struct {
	ID      uint32
	Elapsed time.Duration
	Lost    bool
}

// LatencyInitiator drives spec §4.5.1's state machine: for RTT mode, send
// PING and wait for the matching PONG; for ONE_WAY mode, send TX then SYNC
// carrying the TX timestamp, with no reply expected.
type LatencyInitiator struct {
	transport Transport
	mode      LatencyMode
	interval  time.Duration
	jitter    time.Duration
	precise   bool
	clock     sleepclock.Clock
	log       *zap.Logger
}

func NewLatencyInitiator(t Transport, mode LatencyMode, interval, jitter time.Duration, precise bool, log *zap.Logger) *LatencyInitiator {
	return &LatencyInitiator{transport: t, mode: mode, interval: interval, jitter: jitter, precise: precise, log: tsnlog.OrNop(log)}
}

// Run sends count iterations, invoking onSample after each one, stopping
// early if ctx is cancelled.
func (in *LatencyInitiator) Run(ctx context.Context, count int, onSample func(LatencySample)) error {
	if err := in.transport.SetReadTimeout(time.Second); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var sample LatencySample
		var err error
		switch in.mode {
		case RTT:
			sample, err = in.runRTT(uint32(i))
		case OneWay:
			sample, err = in.runOneWay(uint32(i))
		}
		if err != nil {
			return err
		}
		onSample(sample)

		if i == count-1 {
			break
		}
		in.sleepBetween(ctx)
	}
	return nil
}

func (in *LatencyInitiator) runRTT(id uint32) (LatencySample, error) {
	txTime, err := in.transport.Send(mustMarshal(NewTimestamped(id, OpPing, time.Time{}, nil)))
	if err != nil {
		return LatencySample{}, err
	}

	buf := make([]byte, 1514)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, rxTime, err := in.transport.Recv(buf)
		if err != nil {
			if IsWrongEtherType(err) {
				continue
			}
			return LatencySample{ID: id, Lost: true}, nil
		}
		var pkt Packet
		if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}
		if pkt.Op != OpPong || pkt.ID != id {
			continue
		}
		return LatencySample{ID: id, Elapsed: rxTime.Sub(txTime)}, nil
	}
	return LatencySample{ID: id, Lost: true}, nil
}

func (in *LatencyInitiator) runOneWay(id uint32) (LatencySample, error) {
	txTime, err := in.transport.Send(mustMarshal(NewTimestamped(id, OpTx, time.Time{}, nil)))
	if err != nil {
		return LatencySample{}, err
	}
	_, err = in.transport.Send(mustMarshal(NewTimestamped(id, OpSync, txTime, nil)))
	if err != nil {
		return LatencySample{}, err
	}
	return LatencySample{ID: id}, nil
}

func (in *LatencyInitiator) sleepBetween(ctx context.Context) {
	if in.precise {
		next := time.Now().Truncate(time.Second).Add(time.Second)
		in.clock.SleepUntil(next)
		return
	}
	var jitter time.Duration
	if in.jitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(in.jitter)))
	}
	select {
	case <-time.After(in.interval + jitter):
	case <-ctx.Done():
	}
}

// LatencyResponder drives spec §4.5.2's single-slot responder: PING gets
// its source/destination swapped and is echoed back as PONG; TX is
// remembered as the last-observed one-way probe; SYNC is matched against
// it by id and, if it matches, emits an elapsed sample.
type LatencyResponder struct {
	transport Transport
	srcMAC    [6]byte
	log       *zap.Logger

	lastTxID uint32
	lastTxRx time.Time
	haveTx   bool
}

func NewLatencyResponder(t Transport, log *zap.Logger) *LatencyResponder {
	return &LatencyResponder{transport: t, log: tsnlog.OrNop(log)}
}

// Run reads frames until ctx is cancelled, invoking onSample for every
// ONE_WAY elapsed measurement it computes.
func (r *LatencyResponder) Run(ctx context.Context, onSample func(LatencySample)) error {
	if err := r.transport.SetReadTimeout(time.Second); err != nil {
		return err
	}
	buf := make([]byte, 1514)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, rxTime, err := r.transport.Recv(buf)
		if err != nil {
			continue
		}
		var pkt Packet
		if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}
		switch pkt.Op {
		case OpPing:
			if _, err := r.transport.Send(mustMarshal(NewTimestamped(pkt.ID, OpPong, time.Time{}, nil))); err != nil {
				r.log.Warn("perf: failed to reply to PING", zap.Error(err))
			}
		case OpTx:
			r.lastTxID = pkt.ID
			r.lastTxRx = rxTime
			r.haveTx = true
		case OpSync:
			if r.haveTx && pkt.ID == r.lastTxID {
				sent := pkt.Time()
				onSample(LatencySample{ID: pkt.ID, Elapsed: r.lastTxRx.Sub(sent)})
				r.haveTx = false
			}
		}
	}
}

func mustMarshal(p Packet) []byte {
	b, _ := p.MarshalBinary()
	return b
}
