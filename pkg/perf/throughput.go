package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

// DefaultTargetBitsPerSecond is spec §4.5.3's default pacing rate.
const DefaultTargetBitsPerSecond = 500_000_000

// frameOverheadBits accounts for the 14-byte Ethernet header plus the
// 4-byte VLAN tag the kernel adds but userspace never sees (spec §4.5.4's
// "+4 accounts for the VLAN tag not visible to user space").
const frameOverheadBits = (14 + 4) * 8

// Summary is the final accounting spec §4.5's RES_RESULT payload and the
// throughput tools' stdout line both report.
type Summary struct {
	PacketCount uint64
	TotalBytes  uint64
	Elapsed     time.Duration
}

// BitsPerSecond returns total bytes * 8 / elapsed seconds, spec
// §4.5.3 scenario 3's summary line.
func (s Summary) BitsPerSecond() float64 {
	secs := s.Elapsed.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(s.TotalBytes) * 8 / secs
}

const handshakeRetries = 3
const handshakeRTO = time.Second

// ThroughputInitiator drives spec §4.5.3's state machine.
type ThroughputInitiator struct {
	transport   Transport
	targetBps   uint64
	payloadSize int
	log         *zap.Logger
}

// NewThroughputInitiator builds an Initiator pacing DATA sends at
// targetBps (0 selects DefaultTargetBitsPerSecond), each DATA carrying
// payloadSize bytes past the 13-byte PerfPacket header.
func NewThroughputInitiator(t Transport, targetBps uint64, payloadSize int, log *zap.Logger) *ThroughputInitiator {
	if targetBps == 0 {
		targetBps = DefaultTargetBitsPerSecond
	}
	return &ThroughputInitiator{transport: t, targetBps: targetBps, payloadSize: payloadSize, log: tsnlog.OrNop(log)}
}

// Run executes one full session: REQ_START handshake, DATA at the target
// rate for duration (or until ctx is cancelled), REQ_END handshake, and,
// if wantResult is set, a REQ_RESULT/RES_RESULT exchange. It returns the
// responder's counters when wantResult is set and RES_RESULT arrives, and
// the locally-counted summary otherwise.
func (in *ThroughputInitiator) Run(ctx context.Context, duration time.Duration, wantResult bool) (Summary, error) {
	const op = "perf.ThroughputInitiator.Run"
	if err := in.transport.SetReadTimeout(handshakeRTO); err != nil {
		return Summary{}, err
	}

	start := ReqStartPayload{DurationSeconds: uint32(duration.Seconds())}
	startPayload, _ := start.MarshalBinary()
	if err := in.handshake(OpReqStart, startPayload, OpResStart); err != nil {
		return Summary{}, tsnerr.New(op, tsnerr.HandshakeFailed, err)
	}

	limiter := rate.NewLimiter(rate.Limit(in.targetBps), int(frameOverheadBits+(headerSize+in.payloadSize)*8)+1)
	payload := make([]byte, in.payloadSize)

	var count uint64
	var totalBytes uint64
	deadline := time.Now().Add(duration)
	var id uint32
	for time.Now().Before(deadline) && ctx.Err() == nil {
		frameBits := frameOverheadBits + (headerSize+len(payload))*8
		if err := limiter.WaitN(ctx, frameBits); err != nil {
			break
		}
		pkt := NewTimestamped(id, OpData, time.Now(), payload)
		b, _ := pkt.MarshalBinary()
		if _, err := in.transport.Send(b); err != nil {
			return Summary{}, tsnerr.New(op, tsnerr.IoFailed, err)
		}
		count++
		totalBytes += uint64(len(b)) + 4
		id++
	}

	if err := in.handshake(OpReqEnd, nil, OpResEnd); err != nil {
		return Summary{}, tsnerr.New(op, tsnerr.HandshakeFailed, err)
	}

	summary := Summary{PacketCount: count, TotalBytes: totalBytes, Elapsed: duration}

	if wantResult {
		remote, err := in.requestResult()
		if err == nil {
			summary = remote
		} else {
			in.log.Warn("perf: REQ_RESULT failed, reporting local counters", zap.Error(err))
		}
	}
	return summary, nil
}

func (in *ThroughputInitiator) handshake(req Op, payload []byte, wantReply Op) error {
	buf := make([]byte, 1514)
	for attempt := 0; attempt < handshakeRetries; attempt++ {
		if _, err := in.transport.Send(mustMarshal(Packet{Op: req, Payload: payload})); err != nil {
			return err
		}
		deadline := time.Now().Add(handshakeRTO)
		for time.Now().Before(deadline) {
			n, _, err := in.transport.Recv(buf)
			if err != nil {
				break
			}
			var pkt Packet
			if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
				continue
			}
			if pkt.Op == wantReply {
				return nil
			}
		}
	}
	return fmt.Errorf("perf: no reply to op %s after %d retries", req, handshakeRetries)
}

func (in *ThroughputInitiator) requestResult() (Summary, error) {
	buf := make([]byte, 1514)
	if _, err := in.transport.Send(mustMarshal(Packet{Op: OpReqResult})); err != nil {
		return Summary{}, err
	}
	deadline := time.Now().Add(handshakeRTO)
	for time.Now().Before(deadline) {
		n, _, err := in.transport.Recv(buf)
		if err != nil {
			continue
		}
		var pkt Packet
		if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}
		if pkt.Op != OpResResult {
			continue
		}
		var result ResultPayload
		if err := result.UnmarshalBinary(pkt.Payload); err != nil {
			return Summary{}, err
		}
		return Summary{
			PacketCount: result.PacketCount,
			TotalBytes:  result.TotalBytes,
			Elapsed:     time.Duration(result.ElapsedSec)*time.Second + time.Duration(result.ElapsedNsec),
		}, nil
	}
	return Summary{}, fmt.Errorf("perf: no RES_RESULT reply")
}

// throughputState is the responder's session state (spec §4.5.4).
type throughputState int

const (
	stateIdle throughputState = iota
	stateRunning
)

// sessionCounters is the mutable state the stats worker and the recv loop
// both touch, guarded by mu — the same shape as the teacher's
// exporter.TCPInfoCollector guarding its conns map.
type sessionCounters struct {
	mu            sync.Mutex
	pktCount      uint64
	totalBytes    uint64
	maxID         uint32
	lastTickPkt   uint64
	lastTickID    uint32
	lastTickBytes uint64
	startedAt     time.Time
}

// ThroughputResponder drives spec §4.5.4's state machine.
type ThroughputResponder struct {
	transport Transport
	counters  sessionCounters
	onTick    func(second int, deltaPackets uint64, deltaBitsSent uint64, lossRate float64)
	onSummary func(Summary)
	log       *zap.Logger
}

func NewThroughputResponder(t Transport, onTick func(int, uint64, uint64, float64), onSummary func(Summary), log *zap.Logger) *ThroughputResponder {
	return &ThroughputResponder{transport: t, onTick: onTick, onSummary: onSummary, log: tsnlog.OrNop(log)}
}

// Run processes frames until ctx is cancelled.
func (r *ThroughputResponder) Run(ctx context.Context) error {
	if err := r.transport.SetReadTimeout(time.Second); err != nil {
		return err
	}

	state := stateIdle
	buf := make([]byte, 1514)
	var statsCancel context.CancelFunc
	var statsGroup *errgroup.Group

	stopStats := func() {
		if statsCancel != nil {
			statsCancel()
			_ = statsGroup.Wait()
			statsCancel = nil
		}
	}
	defer stopStats()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, _, err := r.transport.Recv(buf)
		if err != nil {
			continue
		}
		var pkt Packet
		if err := pkt.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}

		switch pkt.Op {
		case OpReqStart:
			if state == stateIdle {
				r.counters.reset()
				state = stateRunning
				var statsCtx context.Context
				statsCtx, statsCancel = context.WithCancel(ctx)
				g, gctx := errgroup.WithContext(statsCtx)
				statsGroup = g
				g.Go(func() error { r.runStatsWorker(gctx); return nil })
			}
			if _, err := r.transport.Send(mustMarshal(Packet{Op: OpResStart})); err != nil {
				r.log.Warn("perf: failed to send RES_START", zap.Error(err))
			}
		case OpData:
			if state == stateRunning {
				r.counters.record(pkt.ID, uint64(n)+4)
			}
		case OpReqEnd:
			if state == stateRunning {
				stopStats()
				state = stateIdle
				summary := r.counters.summary()
				if r.onSummary != nil {
					r.onSummary(summary)
				}
			}
			if _, err := r.transport.Send(mustMarshal(Packet{Op: OpResEnd})); err != nil {
				r.log.Warn("perf: failed to send RES_END", zap.Error(err))
			}
		case OpReqResult:
			result := r.counters.summary()
			payload := ResultPayload{
				PacketCount: result.PacketCount,
				TotalBytes:  result.TotalBytes,
				ElapsedSec:  int64(result.Elapsed / time.Second),
				ElapsedNsec: int64(result.Elapsed % time.Second),
			}
			b, _ := payload.MarshalBinary()
			if _, err := r.transport.Send(mustMarshal(Packet{Op: OpResResult, Payload: b})); err != nil {
				r.log.Warn("perf: failed to send RES_RESULT", zap.Error(err))
			}
		}
	}
}

func (r *ThroughputResponder) runStatsWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	second := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			second++
			deltaPackets, deltaID, deltaBytes := r.counters.tick()
			var lossRate float64
			if deltaID > 0 {
				lossRate = 1 - float64(deltaPackets)/float64(deltaID)
			}
			if r.onTick != nil {
				r.onTick(second, deltaPackets, deltaBytes*8, lossRate)
			}
		}
	}
}

func (c *sessionCounters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pktCount, c.totalBytes, c.maxID = 0, 0, 0
	c.lastTickPkt, c.lastTickID, c.lastTickBytes = 0, 0, 0
	c.startedAt = time.Now()
}

func (c *sessionCounters) record(id uint32, frameBytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pktCount++
	c.totalBytes += frameBytes
	if id > c.maxID {
		c.maxID = id
	}
}

// tick returns (deltaPackets, deltaIDs, deltaBytes) since the previous tick.
func (c *sessionCounters) tick() (uint64, uint32, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deltaPackets := c.pktCount - c.lastTickPkt
	deltaID := c.maxID - c.lastTickID
	deltaBytes := c.totalBytes - c.lastTickBytes
	c.lastTickPkt = c.pktCount
	c.lastTickID = c.maxID
	c.lastTickBytes = c.totalBytes
	return deltaPackets, deltaID, deltaBytes
}

func (c *sessionCounters) summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{PacketCount: c.pktCount, TotalBytes: c.totalBytes, Elapsed: time.Since(c.startedAt)}
}
