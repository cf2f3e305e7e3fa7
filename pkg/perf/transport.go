package perf

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Transport carries PerfPacket payloads between initiator and responder,
// hiding whether the session runs over raw EtherType 0x1337 frames or
// IPv4/UDP (spec §4.5's "wire frame" clause: the PerfPacket layout is
// identical either way, only the framing underneath it differs).
type Transport interface {
	// Send transmits payload and reports the transmit timestamp: hardware
	// (if enabled and available), else a monotonic wall-clock read taken
	// immediately around the send.
	Send(payload []byte) (time.Time, error)
	// Recv reads one payload into buf, reporting its receive timestamp.
	Recv(buf []byte) (n int, rxTime time.Time, err error)
	SetReadTimeout(d time.Duration) error
}

// RawTransport carries PerfPacket payloads as the payload of Ethernet
// frames over a pkg/tsnsock handle, matching the original EtherType
// 0x1337 wire format.
type RawTransport struct {
	sock    rawSocket
	srcMAC  [6]byte
	ethType uint16
	useHW   bool

	mu     sync.Mutex
	dstMAC [6]byte
}

// rawSocket is the subset of *tsnsock.Socket RawTransport needs; kept as an
// interface so tests can fake it without a real AF_PACKET socket.
type rawSocket interface {
	Send(b []byte) (int, error)
	Recv(buf []byte) (int, error)
	SetReceiveTimeout(d time.Duration) error
	EnableTxTimestamp() error
	GetTxTimestamp() (time.Time, error)
	RecvWithTimestamp(buf []byte) (int, time.Time, error)
}

// NewRawTransport wraps sock, an already-open tsnsock handle bound to the
// measurement VLAN, framing payloads as Ethernet(dstMAC, srcMAC, ethType).
// If useHW is set, it calls sock.EnableTxTimestamp; if that fails, the error
// is discarded and Send reports a time.Now() reading taken after the send
// instead of a socket TX timestamp (spec §4.4: NIC refusal is non-fatal).
func NewRawTransport(sock rawSocket, srcMAC, dstMAC [6]byte, ethType uint16, useHW bool) *RawTransport {
	t := &RawTransport{sock: sock, srcMAC: srcMAC, dstMAC: dstMAC, ethType: ethType}
	if useHW {
		if err := sock.EnableTxTimestamp(); err == nil {
			t.useHW = true
		}
	}
	return t
}

func (t *RawTransport) Send(payload []byte) (time.Time, error) {
	t.mu.Lock()
	dst := t.dstMAC
	t.mu.Unlock()

	frame := make([]byte, 14+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], t.srcMAC[:])
	binary.BigEndian.PutUint16(frame[12:14], t.ethType)
	copy(frame[14:], payload)

	if _, err := t.sock.Send(frame); err != nil {
		return time.Time{}, err
	}
	if t.useHW {
		if ts, err := t.sock.GetTxTimestamp(); err == nil {
			return ts, nil
		}
	}
	return time.Now(), nil
}

// Recv reads one frame and, as a side effect, updates the destination MAC
// future Sends use to the frame's source address (spec §4.5.2: a server
// swaps source/destination before replying; dstMAC passed to
// NewRawTransport is only the initial value a client needs before it has
// received anything).
func (t *RawTransport) Recv(buf []byte) (int, time.Time, error) {
	frame := make([]byte, len(buf)+14)
	n, rxTime, err := t.sock.RecvWithTimestamp(frame)
	if err != nil {
		return 0, time.Time{}, err
	}
	if rxTime.IsZero() {
		rxTime = time.Now()
	}
	if n < 14 {
		return 0, rxTime, fmt.Errorf("perf: short ethernet frame (%d bytes)", n)
	}
	if got := binary.BigEndian.Uint16(frame[12:14]); got != t.ethType {
		return 0, rxTime, errWrongEtherType
	}

	var peer [6]byte
	copy(peer[:], frame[6:12])
	t.mu.Lock()
	t.dstMAC = peer
	t.mu.Unlock()

	payloadLen := copy(buf, frame[14:n])
	return payloadLen, rxTime, nil
}

func (t *RawTransport) SetReadTimeout(d time.Duration) error {
	return t.sock.SetReceiveTimeout(d)
}

var errWrongEtherType = fmt.Errorf("perf: unexpected ethertype")

// IsWrongEtherType reports whether err is RawTransport's "frame wasn't
// ours" sentinel, the signal latency/throughput loops use to drop a frame
// and keep listening rather than treat it as a transport failure.
func IsWrongEtherType(err error) bool {
	return err == errWrongEtherType
}

// UDPTransport carries PerfPacket payloads directly as UDP datagrams (UDP
// mode has no measurement-EtherType framing to strip: the kernel's UDP
// demux already did that filtering).
type UDPTransport struct {
	conn *net.UDPConn
}

func NewUDPTransport(conn *net.UDPConn) *UDPTransport {
	return &UDPTransport{conn: conn}
}

func (t *UDPTransport) Send(payload []byte) (time.Time, error) {
	if _, err := t.conn.Write(payload); err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

func (t *UDPTransport) Recv(buf []byte) (int, time.Time, error) {
	n, err := t.conn.Read(buf)
	return n, time.Now(), err
}

func (t *UDPTransport) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(d))
}
