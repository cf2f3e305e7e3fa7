// Package vlanregistry is the VLAN Reference Registry (spec §4.3): a named,
// persistent, inter-process shared container tracking which process ids
// currently hold a VLAN sub-interface open, so the first opener brings the
// link up and the last closer tears it back down.
package vlanregistry

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/renameio"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/tsnkit/tsnkit/pkg/tsnadmin"
	"github.com/tsnkit/tsnkit/pkg/tsnerr"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
)

// segmentSize is the fixed layout spec §4.3 defines: a densely-packed array
// of 32-bit process ids, zero-terminated.
const segmentSize = 128

// capacity is the maximum number of concurrent users per (nic, vlanId).
const capacity = segmentSize / 4 // 32

// segmentDir is where the shared segment files live. spec §9 allows any
// implementation to substitute a named shm_open segment with "a file under
// /var/run"; this uses /dev/shm, Linux's tmpfs-backed POSIX shared memory
// mount, for the same effect without cgo or a shm_open binding.
var segmentDir = "/dev/shm"

// Registry manages the on-disk segment and its lock for one (nic, vlanId)
// pair.
type Registry struct {
	path string
	lock *flock.Flock
	log  *zap.Logger
}

// Open returns a Registry for nic/vlanId. It does not touch the filesystem
// until Acquire or Release is called.
func Open(nic string, vlanID int, log *zap.Logger) *Registry {
	name := tsnadmin.VlanName(nic, vlanID)
	path := filepath.Join(segmentDir, "libtsn_vlan_"+name)
	return &Registry{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  tsnlog.OrNop(log),
	}
}

func readSegment(path string) ([]int32, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, segmentSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	pids := make([]int32, 0, capacity)
	for i := 0; i+4 <= len(buf); i += 4 {
		pid := int32(binary.LittleEndian.Uint32(buf[i : i+4]))
		if pid == 0 {
			break
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func writeSegment(path string, pids []int32) error {
	buf := make([]byte, segmentSize)
	for i, pid := range pids {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(pid))
	}
	return renameio.WriteFile(path, buf, 0o600)
}

// pidExists is the signal-probe (kill(pid,0)) vlanregistry uses to decide
// liveness. Overridable in tests; production uses gopsutil's portable
// process.PidExists.
var pidExists = process.PidExists

// pruneStale drops any pid from pids for which a signal-probe (kill(pid,0),
// here pidExists) fails, per spec §4.3's liveness rule.
func pruneStale(log *zap.Logger, pids []int32) []int32 {
	live := pids[:0]
	for _, pid := range pids {
		exists, err := pidExists(pid)
		if err != nil {
			log.Warn("vlanregistry: pid liveness probe failed, keeping record", zap.Int32("pid", pid), zap.Error(err))
			live = append(live, pid)
			continue
		}
		if exists {
			live = append(live, pid)
		} else {
			log.Debug("vlanregistry: pruned stale record", zap.Int32("pid", pid))
		}
	}
	return live
}

// Acquire records the calling process as a user of the segment and reports
// whether it was the first (wasEmpty). The lock is held for the whole
// read-modify-write and released before returning, per spec §4.3's
// lock-order rule (callers must not still hold it while invoking the link
// administrator).
func (r *Registry) Acquire(pid int) (wasEmpty bool, err error) {
	const op = "vlanregistry.Acquire"
	if err := r.lock.Lock(); err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	defer r.lock.Unlock()

	pids, err := readSegment(r.path)
	if err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	wasEmpty = len(pids) == 0

	for _, existing := range pids {
		if existing == int32(pid) {
			return wasEmpty, nil
		}
	}
	if len(pids) >= capacity {
		return false, tsnerr.New(op, tsnerr.TooManyUsers, fmt.Errorf("%s: at capacity (%d)", r.path, capacity))
	}
	pids = append(pids, int32(pid))
	if err := writeSegment(r.path, pids); err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	return wasEmpty, nil
}

// Release removes the calling process from the segment, pruning stale
// records first, and reports whether the segment became empty. If it did,
// the segment file is unlinked and the caller is expected to invoke the
// link administrator's Revert.
func (r *Registry) Release(pid int) (becameEmpty bool, err error) {
	const op = "vlanregistry.Release"
	if err := r.lock.Lock(); err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	defer r.lock.Unlock()

	pids, err := readSegment(r.path)
	if err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	pids = pruneStale(r.log, pids)

	filtered := pids[:0]
	for _, existing := range pids {
		if existing != int32(pid) {
			filtered = append(filtered, existing)
		}
	}

	if len(filtered) == 0 {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
		}
		return true, nil
	}
	if err := writeSegment(r.path, filtered); err != nil {
		return false, tsnerr.New(op, tsnerr.RegistryUnavailable, err)
	}
	return false, nil
}
