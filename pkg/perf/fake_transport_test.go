package perf

import (
	"time"
)

// fakeTransport is an in-memory Transport pair for testing the latency and
// throughput state machines without real sockets. Each side reads from the
// other's outbound queue.
type fakeTransport struct {
	outbound chan []byte
	inbound  chan []byte
	now      func() time.Time
}

func newFakeTransportPair() (a, b *fakeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a = &fakeTransport{outbound: ab, inbound: ba, now: time.Now}
	b = &fakeTransport{outbound: ba, inbound: ab, now: time.Now}
	return a, b
}

func (f *fakeTransport) Send(payload []byte) (time.Time, error) {
	cp := append([]byte(nil), payload...)
	f.outbound <- cp
	return f.now(), nil
}

func (f *fakeTransport) Recv(buf []byte) (int, time.Time, error) {
	select {
	case b := <-f.inbound:
		n := copy(buf, b)
		return n, f.now(), nil
	case <-time.After(time.Second):
		return 0, time.Time{}, errFakeTimeout
	}
}

func (f *fakeTransport) SetReadTimeout(d time.Duration) error { return nil }

var errFakeTimeout = &timeoutErr{}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "fake: timeout" }
