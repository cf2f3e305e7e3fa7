//go:build linux

package tsnsock

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
)

// txTimestampFlags is the opcode set spec §4.4 names: hardware, legacy
// hardware, and software TX timestamps, RX software timestamps (needed for
// the kernel to report any RX_HARDWARE fallback path), and error-queue
// readiness signaling via ancillary data.
const txTimestampFlags = unix.SOF_TIMESTAMPING_TX_HARDWARE |
	unix.SOF_TIMESTAMPING_SYS_HARDWARE |
	unix.SOF_TIMESTAMPING_RAW_HARDWARE |
	unix.SOF_TIMESTAMPING_TX_SOFTWARE |
	unix.SOF_TIMESTAMPING_RX_SOFTWARE |
	unix.SOF_TIMESTAMPING_SOFTWARE |
	unix.SOF_TIMESTAMPING_OPT_CMSG

// hwtstampConfig mirrors Linux uapi struct hwtstamp_config (three packed
// int32: flags, tx_type, rx_filter).
type hwtstampConfig struct {
	Flags    int32
	TxType   int32
	RxFilter int32
}

const (
	hwtstampTxOn       = 1 // HWTSTAMP_TX_ON
	hwtstampFilterNone = 0 // HWTSTAMP_FILTER_NONE
)

// ifreqData is struct ifreq's layout when ifr_data carries a pointer, used
// by SIOCSHWTSTAMP (see Linux Documentation/networking/timestamping.rst).
type ifreqData struct {
	Name [unix.IFNAMSIZ]byte
	Data uintptr
	_    [16]byte // pad to the full 40-byte struct ifreq on amd64
}

// ioctlHwtstamp issues SIOCSHWTSTAMP on ifname with cfg. No x/sys helper
// wraps this struct (it is passed through ifr_data as an opaque pointer, not
// through the generic _IOC convention), so this goes straight to the raw
// ioctl syscall, the same layer pkg/tcpinfo talks to the kernel through.
func ioctlHwtstamp(fd int, ifname string, cfg *hwtstampConfig) error {
	var req ifreqData
	copy(req.Name[:], ifname)
	req.Data = uintptr(unsafe.Pointer(cfg))

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.SIOCSHWTSTAMP), uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return errno
	}
	return nil
}

// EnableTxTimestamp requests hardware (preferred), legacy-hardware, or
// software TX timestamps on the socket error queue. NIC refusal
// (EOPNOTSUPP) is non-fatal: software timestamping remains enabled via the
// SO_TIMESTAMPING flags already set, and NotSupported is returned so the
// caller can log it without treating it as fatal.
func (s *Socket) EnableTxTimestamp() error {
	const op = "tsnsock.EnableTxTimestamp"
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, txTimestampFlags); err != nil {
		return tsnerr.New(op, tsnerr.IoFailed, err)
	}
	s.txTimestampEnabled = true

	name := s.vlanIfaceName()
	cfg := hwtstampConfig{TxType: hwtstampTxOn, RxFilter: hwtstampFilterNone}
	if err := ioctlHwtstamp(s.fd, name, &cfg); err != nil {
		s.log.Warn("tsnsock: NIC refused hardware TX timestamping, falling back to software",
			zap.String("id", s.id.String()), zap.Error(err))
		return tsnerr.New(op, tsnerr.NotSupported, err)
	}
	return nil
}

// EnableRxTimestamp enables per-packet RX timestamp delivery via
// RecvWithTimestamp's ancillary data.
func (s *Socket) EnableRxTimestamp() error {
	const op = "tsnsock.EnableRxTimestamp"
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, txTimestampFlags); err != nil {
		return tsnerr.New(op, tsnerr.NotSupported, err)
	}
	s.rxTimestampEnabled = true
	return nil
}

// scmTimestamping mirrors Linux uapi struct scm_timestamping: three
// timespecs (software, deprecated legacy-hardware, raw-hardware).
type scmTimestamping struct {
	Software     unix.Timespec
	DeprecatedHW unix.Timespec
	RawHardware  unix.Timespec
}

func decodeScmTimestamping(b []byte) (scmTimestamping, bool) {
	var ts scmTimestamping
	if len(b) < 48 {
		return ts, false
	}
	read := func(off int) unix.Timespec {
		sec := int64(binary.LittleEndian.Uint64(b[off:]))
		nsec := int64(binary.LittleEndian.Uint64(b[off+8:]))
		return unix.Timespec{Sec: sec, Nsec: nsec}
	}
	ts.Software = read(0)
	ts.DeprecatedHW = read(16)
	ts.RawHardware = read(32)
	return ts, true
}

func (ts scmTimestamping) best() (time.Time, bool) {
	if ts.RawHardware.Sec != 0 || ts.RawHardware.Nsec != 0 {
		return time.Unix(ts.RawHardware.Sec, ts.RawHardware.Nsec), true
	}
	if ts.DeprecatedHW.Sec != 0 || ts.DeprecatedHW.Nsec != 0 {
		return time.Unix(ts.DeprecatedHW.Sec, ts.DeprecatedHW.Nsec), true
	}
	if ts.Software.Sec != 0 || ts.Software.Nsec != 0 {
		return time.Unix(ts.Software.Sec, ts.Software.Nsec), true
	}
	return time.Time{}, false
}

// GetTxTimestamp reads one timestamp off the socket error queue, polling for
// up to one second, preferring hardware over legacy-hardware over software
// per spec §4.4/§9.
func (s *Socket) GetTxTimestamp() (time.Time, error) {
	const op = "tsnsock.GetTxTimestamp"
	deadline := time.Now().Add(time.Second)
	oob := make([]byte, 256)

	for time.Now().Before(deadline) {
		_, oobn, _, _, err := unix.Recvmsg(s.fd, nil, oob, unix.MSG_ERRQUEUE)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(time.Millisecond)
				continue
			}
			return time.Time{}, tsnerr.New(op, tsnerr.IoFailed, err)
		}
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return time.Time{}, tsnerr.New(op, tsnerr.IoFailed, err)
		}
		for _, m := range msgs {
			if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SO_TIMESTAMPING {
				continue
			}
			ts, ok := decodeScmTimestamping(m.Data)
			if !ok {
				continue
			}
			if when, ok := ts.best(); ok {
				return when, nil
			}
		}
		return time.Time{}, tsnerr.New(op, tsnerr.NoTimestamp, fmt.Errorf("SCM_TIMESTAMPING ancillary data absent"))
	}
	return time.Time{}, tsnerr.New(op, tsnerr.Timeout, fmt.Errorf("no tx timestamp within 1s"))
}

// RecvWithTimestamp reads one frame into buf along with its RX timestamp from
// the frame's SO_TIMESTAMPING control message. If no usable timestamp comes
// with the frame, it returns the byte count with a NoTimestamp error.
func (s *Socket) RecvWithTimestamp(buf []byte) (int, time.Time, error) {
	const op = "tsnsock.RecvWithTimestamp"
	oob := make([]byte, 256)
	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, time.Time{}, tsnerr.New(op, tsnerr.Timeout, err)
		}
		return 0, time.Time{}, tsnerr.New(op, tsnerr.IoFailed, err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, time.Time{}, tsnerr.New(op, tsnerr.IoFailed, err)
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SO_TIMESTAMPING {
			continue
		}
		if ts, ok := decodeScmTimestamping(m.Data); ok {
			if when, ok := ts.best(); ok {
				return n, when, nil
			}
		}
	}
	return n, time.Time{}, tsnerr.New(op, tsnerr.NoTimestamp, nil)
}

func (s *Socket) vlanIfaceName() string {
	base := s.nic
	if len(base) > 10 {
		base = base[:10]
	}
	return fmt.Sprintf("%s.%d", base, s.vlanID)
}
