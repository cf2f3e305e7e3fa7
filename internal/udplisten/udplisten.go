// Package udplisten adapts an unconnected *net.UDPConn (the kind
// net.ListenUDP returns) into a perf.Transport. perf.UDPTransport assumes
// a connected socket with a fixed peer, which fits a client dialing a
// known target; a server doesn't know its peer until the first datagram
// arrives, so it reads with ReadFromUDP and replies to whichever address
// last sent it something.
package udplisten

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Transport implements perf.Transport over a net.ListenUDP socket,
// tracking the most recent sender as the reply destination.
type Transport struct {
	conn *net.UDPConn

	mu   sync.Mutex
	peer *net.UDPAddr
}

func New(conn *net.UDPConn) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) Send(payload []byte) (time.Time, error) {
	t.mu.Lock()
	peer := t.peer
	t.mu.Unlock()
	if peer == nil {
		return time.Time{}, fmt.Errorf("udplisten: no peer known yet")
	}
	if _, err := t.conn.WriteToUDP(payload, peer); err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

func (t *Transport) Recv(buf []byte) (int, time.Time, error) {
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return n, time.Time{}, err
	}
	t.mu.Lock()
	t.peer = addr
	t.mu.Unlock()
	return n, time.Now(), nil
}

func (t *Transport) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(d))
}
