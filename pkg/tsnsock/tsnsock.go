//go:build linux

// Package tsnsock is the TSN Socket (spec §4.4): a raw AF_PACKET handle
// bound to a VLAN sub-interface, composed with pkg/vlanregistry and
// pkg/tsnadmin so the first opener brings the link up and the last closer
// tears it down (spec §4.3's composition rule).
package tsnsock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tsnkit/tsnkit/pkg/tsnadmin"
	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnerr"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
	"github.com/tsnkit/tsnkit/pkg/vlanregistry"
)

// Socket is one raw AF_PACKET handle bound to a VLAN sub-interface. Every
// log line it emits carries id, the teacher's pattern (see sockstats.Conn,
// pkg/exporter's connEntry) for tagging a long-lived tracked resource so its
// log lines can be correlated across its lifetime without a net.Conn's
// built-in String().
type Socket struct {
	fd       int
	id       xid.ID
	nic      string
	vlanID   int
	registry *vlanregistry.Registry
	admin    *tsnadmin.Administrator
	log      *zap.Logger

	txTimestampEnabled bool
	rxTimestampEnabled bool
}

// htons converts a 16-bit value from host to network byte order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// Open brings up (if needed) the VLAN sub-interface nic.vlanID and returns a
// raw socket bound to it, accepting ethType frames, carrying prio as its
// SO_PRIORITY. admin is the Link/Qdisc Administrator to invoke on first-open
// and last-close; cfg is the normalized NIC descriptor admin.Apply needs.
func Open(ctx context.Context, nic string, vlanID, prio int, ethType uint16, cfg *tsnconfig.NicConfig, admin *tsnadmin.Administrator, log *zap.Logger) (*Socket, error) {
	const op = "tsnsock.Open"
	log = tsnlog.OrNop(log)

	if vlanID < 1 || vlanID > 4094 {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("vlan id %d out of range [1,4094]", vlanID))
	}
	if prio < 0 || prio > 7 {
		return nil, tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("priority %d out of range [0,7]", prio))
	}

	reg := vlanregistry.Open(nic, vlanID, log)
	wasEmpty, err := reg.Acquire(os.Getpid())
	if err != nil {
		return nil, err
	}

	if wasEmpty {
		if err := admin.Apply(ctx, nic, vlanID, cfg); err != nil {
			_, _ = reg.Release(os.Getpid())
			return nil, tsnerr.New(op, tsnerr.BringUpFailed, err)
		}
	}

	name := tsnadmin.VlanName(nic, vlanID)
	ifindex, err := unix.IfNameToIndex(name)
	if err != nil {
		_, _ = reg.Release(os.Getpid())
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	proto := int(htons(ethType))
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, proto)
	if err != nil {
		_, _ = reg.Release(os.Getpid())
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: uint16(proto), Ifindex: ifindex}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		_, _ = reg.Release(os.Getpid())
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, prio); err != nil {
		_ = unix.Close(fd)
		_, _ = reg.Release(os.Getpid())
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	s := &Socket{
		fd:       fd,
		id:       xid.New(),
		nic:      nic,
		vlanID:   vlanID,
		registry: reg,
		admin:    admin,
		log:      log,
	}
	s.log.Debug("tsnsock: opened", zap.String("id", s.id.String()), zap.String("iface", name), zap.Int("prio", prio))
	return s, nil
}

// OpenRaw binds a raw AF_PACKET socket directly to a physical interface,
// bypassing vlanregistry/tsnadmin entirely (spec's vlan_off=true mode,
// original_source/src/bin/forward.rs's sock_open(..., vlan_off=true)). It
// is for tools like cmd/forward that move whole frames between two NICs
// rather than a single VLAN sub-interface's measurement traffic.
func OpenRaw(nic string, ethType uint16, log *zap.Logger) (*Socket, error) {
	const op = "tsnsock.OpenRaw"
	log = tsnlog.OrNop(log)

	ifindex, err := unix.IfNameToIndex(nic)
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	proto := int(htons(ethType))
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, proto)
	if err != nil {
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: uint16(proto), Ifindex: ifindex}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, tsnerr.New(op, tsnerr.BindFailed, err)
	}

	s := &Socket{fd: fd, id: xid.New(), nic: nic, log: log}
	s.log.Debug("tsnsock: opened raw", zap.String("id", s.id.String()), zap.String("iface", nic))
	return s, nil
}

// CloseRaw closes a socket opened with OpenRaw. Unlike Close, there is no
// vlanregistry entry to release or link to revert.
func (s *Socket) CloseRaw() error {
	const op = "tsnsock.CloseRaw"
	if err := unix.Close(s.fd); err != nil {
		return tsnerr.New(op, tsnerr.IoFailed, err)
	}
	s.log.Debug("tsnsock: closed raw", zap.String("id", s.id.String()))
	return nil
}

// SetReceiveTimeout makes subsequent Recv calls return Timeout after d of no
// data. d must be non-negative.
func (s *Socket) SetReceiveTimeout(d time.Duration) error {
	const op = "tsnsock.SetReceiveTimeout"
	if d < 0 {
		return tsnerr.New(op, tsnerr.InvalidConfig, fmt.Errorf("negative timeout %s", d))
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return tsnerr.New(op, tsnerr.IoFailed, err)
	}
	return nil
}

// Send writes b, a full Ethernet frame starting at the destination MAC, to
// the socket.
func (s *Socket) Send(b []byte) (int, error) {
	const op = "tsnsock.Send"
	n, err := unix.Write(s.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, tsnerr.New(op, tsnerr.WouldBlock, err)
		}
		return 0, tsnerr.New(op, tsnerr.IoFailed, err)
	}
	return n, nil
}

// Recv reads into buf, returning Timeout if the receive deadline set by
// SetReceiveTimeout expires first.
func (s *Socket) Recv(buf []byte) (int, error) {
	const op = "tsnsock.Recv"
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, tsnerr.New(op, tsnerr.Timeout, err)
		}
		if err == unix.EINTR {
			return 0, tsnerr.New(op, tsnerr.Interrupted, err)
		}
		return 0, tsnerr.New(op, tsnerr.IoFailed, err)
	}
	return n, nil
}

// Close releases the socket's vlanregistry reference, tearing down the link
// and qdiscs if this was the last user, and closes the kernel socket
// unconditionally. A failed teardown is logged and returned as a
// TeardownFailed error, even though the kernel socket was closed.
func (s *Socket) Close() error {
	const op = "tsnsock.Close"
	becameEmpty, err := s.registry.Release(os.Getpid())
	if err != nil {
		s.log.Warn("tsnsock: registry release failed", zap.String("id", s.id.String()), zap.Error(err))
	}
	var teardownErr error
	if becameEmpty {
		if err := s.admin.Revert(context.Background(), s.nic, s.vlanID); err != nil {
			s.log.Warn("tsnsock: revert failed", zap.String("id", s.id.String()), zap.Error(err))
			teardownErr = tsnerr.New(op, tsnerr.TeardownFailed, err)
		}
	}
	// The kernel socket is released unconditionally, even if revert failed.
	if err := unix.Close(s.fd); err != nil && teardownErr == nil {
		return tsnerr.New(op, tsnerr.IoFailed, err)
	}
	s.log.Debug("tsnsock: closed", zap.String("id", s.id.String()))
	return teardownErr
}
