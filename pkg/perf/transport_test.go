package perf

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRawSocket is a rawSocket double driven entirely through a channel of
// already-framed Ethernet frames, so tests can exercise RawTransport's
// framing/learning logic without a real AF_PACKET socket.
type fakeRawSocket struct {
	inbound  chan []byte
	lastSent []byte
}

func newFakeRawSocket() *fakeRawSocket {
	return &fakeRawSocket{inbound: make(chan []byte, 8)}
}

func (s *fakeRawSocket) Send(b []byte) (int, error) {
	s.lastSent = append([]byte(nil), b...)
	return len(b), nil
}

func (s *fakeRawSocket) Recv(buf []byte) (int, error) {
	b := <-s.inbound
	return copy(buf, b), nil
}

func (s *fakeRawSocket) SetReceiveTimeout(d time.Duration) error { return nil }

func (s *fakeRawSocket) EnableTxTimestamp() error { return errFakeTimeout }

func (s *fakeRawSocket) GetTxTimestamp() (time.Time, error) { return time.Time{}, errFakeTimeout }

func (s *fakeRawSocket) RecvWithTimestamp(buf []byte) (int, time.Time, error) {
	b := <-s.inbound
	return copy(buf, b), time.Now(), nil
}

func ethFrame(dst, src [6]byte, ethType uint16, payload []byte) []byte {
	frame := make([]byte, 14+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	binary.BigEndian.PutUint16(frame[12:14], ethType)
	copy(frame[14:], payload)
	return frame
}

func TestRawTransport_SendUsesPeerMACLearnedFromRecv(t *testing.T) {
	sock := newFakeRawSocket()
	serverMAC := [6]byte{0xaa, 0, 0, 0, 0, 1}
	clientMAC := [6]byte{0xbb, 0, 0, 0, 0, 2}

	transport := NewRawTransport(sock, serverMAC, [6]byte{}, EtherType, false)

	sock.inbound <- ethFrame(serverMAC, clientMAC, EtherType, []byte("ping"))
	buf := make([]byte, 1514)
	n, _, err := transport.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = transport.Send([]byte("pong"))
	require.NoError(t, err)
	require.NotNil(t, sock.lastSent)
	assert.Equal(t, clientMAC[:], sock.lastSent[0:6], "reply must be addressed to the learned peer MAC, not all-zero")
	assert.Equal(t, serverMAC[:], sock.lastSent[6:12])
}

func TestRawTransport_SendUsesConstructorDstBeforeAnyRecv(t *testing.T) {
	sock := newFakeRawSocket()
	srcMAC := [6]byte{0xaa, 0, 0, 0, 0, 1}
	dstMAC := [6]byte{0xcc, 0, 0, 0, 0, 3}

	transport := NewRawTransport(sock, srcMAC, dstMAC, EtherType, false)

	_, err := transport.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, dstMAC[:], sock.lastSent[0:6])
}
