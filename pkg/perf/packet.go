// Package perf is the Perf Protocol Engine (spec §4.5): the wire packet,
// and the latency/throughput state machines that drive it over a
// pkg/tsnsock handle.
package perf

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Op is a PerfPacket opcode. 0x00 and 0x01 are deliberately overloaded
// between latency and throughput modes — the mode is fixed at tool
// startup and never changes mid-session, so the two families never need
// to share a wire.
type Op byte

const (
	OpPing Op = 0x00 // latency: initiator -> responder, RTT probe
	OpPong Op = 0x01 // latency: responder -> initiator, RTT reply
	OpTx   Op = 0x02 // latency: initiator -> responder, one-way probe
	OpSync Op = 0x03 // latency: carries initiator's TX timestamp for the previous TX

	OpReqStart  Op = 0x00 // throughput: session start request
	OpReqEnd    Op = 0x01 // throughput: session end request
	OpResStart  Op = 0x20 // throughput: start ack
	OpResEnd    Op = 0x21 // throughput: end ack
	OpData      Op = 0x30 // throughput: data packet
	OpReqResult Op = 0x40 // request final statistics
	OpResResult Op = 0x41 // statistics reply
)

func (o Op) String() string {
	switch o {
	case OpPing:
		return "PING/REQ_START"
	case OpPong:
		return "PONG/REQ_END"
	case OpTx:
		return "TX"
	case OpSync:
		return "SYNC"
	case OpResStart:
		return "RES_START"
	case OpResEnd:
		return "RES_END"
	case OpData:
		return "DATA"
	case OpReqResult:
		return "REQ_RESULT"
	case OpResResult:
		return "RES_RESULT"
	default:
		return fmt.Sprintf("Op(0x%02x)", byte(o))
	}
}

// headerSize is the fixed portion of a Packet: id(4) + op(1) + tv_sec(4) +
// tv_nsec(4), per spec §3's byte layout.
const headerSize = 13

// EtherType is the measurement EtherType carried by raw-L2 mode frames.
const EtherType = 0x1337

// Packet is the wire-format record carried as the Ethernet payload (or,
// in UDP mode, the UDP payload) for every perf exchange.
type Packet struct {
	ID      uint32
	Op      Op
	TvSec   uint32
	TvNsec  uint32
	Payload []byte
}

// NewTimestamped builds a Packet whose tv_sec/tv_nsec encode when.
func NewTimestamped(id uint32, op Op, when time.Time, payload []byte) Packet {
	return Packet{ID: id, Op: op, TvSec: uint32(when.Unix()), TvNsec: uint32(when.Nanosecond()), Payload: payload}
}

// Time reconstructs the wall-clock instant tv_sec/tv_nsec encode.
func (p Packet) Time() time.Time {
	return time.Unix(int64(p.TvSec), int64(p.TvNsec))
}

// MarshalBinary encodes p per spec §3's layout: all fields big-endian.
func (p Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(p.Payload))
	binary.BigEndian.PutUint32(buf[0:4], p.ID)
	buf[4] = byte(p.Op)
	binary.BigEndian.PutUint32(buf[5:9], p.TvSec)
	binary.BigEndian.PutUint32(buf[9:13], p.TvNsec)
	copy(buf[headerSize:], p.Payload)
	return buf, nil
}

// UnmarshalBinary decodes b into p. b must be at least headerSize bytes.
func (p *Packet) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("perf: short packet (%d bytes, want at least %d)", len(b), headerSize)
	}
	p.ID = binary.BigEndian.Uint32(b[0:4])
	p.Op = Op(b[4])
	p.TvSec = binary.BigEndian.Uint32(b[5:9])
	p.TvNsec = binary.BigEndian.Uint32(b[9:13])
	if len(b) > headerSize {
		p.Payload = append([]byte(nil), b[headerSize:]...)
	} else {
		p.Payload = nil
	}
	return nil
}

// ReqStartPayload is REQ_START's payload: a four-byte session duration.
type ReqStartPayload struct {
	DurationSeconds uint32
}

func (p ReqStartPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.DurationSeconds)
	return buf, nil
}

func (p *ReqStartPayload) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("perf: short REQ_START payload (%d bytes)", len(b))
	}
	p.DurationSeconds = binary.BigEndian.Uint32(b)
	return nil
}

// ResultPayload is RES_RESULT's payload.
type ResultPayload struct {
	PacketCount uint64
	TotalBytes  uint64
	ElapsedSec  int64
	ElapsedNsec int64
}

func (p ResultPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], p.PacketCount)
	binary.BigEndian.PutUint64(buf[8:16], p.TotalBytes)
	binary.BigEndian.PutUint64(buf[16:24], uint64(p.ElapsedSec))
	binary.BigEndian.PutUint64(buf[24:32], uint64(p.ElapsedNsec))
	return buf, nil
}

func (p *ResultPayload) UnmarshalBinary(b []byte) error {
	if len(b) < 32 {
		return fmt.Errorf("perf: short RES_RESULT payload (%d bytes)", len(b))
	}
	p.PacketCount = binary.BigEndian.Uint64(b[0:8])
	p.TotalBytes = binary.BigEndian.Uint64(b[8:16])
	p.ElapsedSec = int64(binary.BigEndian.Uint64(b[16:24]))
	p.ElapsedNsec = int64(binary.BigEndian.Uint64(b[24:32]))
	return nil
}
