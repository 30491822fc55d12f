//go:build windows

package network

import (
	"fmt"
	"net/netip"
	"unsafe"

	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
)

var procDeleteIpForwardEntry2 = modIPHlpAPI.NewProc("DeleteIpForwardEntry2")

// ifaceSnapshot is the pre-tunnel state of one address family's interface
// knobs, captured so Revert can put the stack back exactly where it found
// it rather than to some fixed default.
type ifaceSnapshot struct {
	have       bool
	autoMetric byte
	metric     uint32
	mtu        uint32
}

// Rollback captures the interface baseline for luid at construction time
// and, on a single Revert call, removes every route this orchestrator
// installed and restores the captured baseline. It is single-use: a
// second Revert call is a programmer error.
type Rollback struct {
	luid      uint64
	serverIP  netip.Addr
	v4, v6    ifaceSnapshot
	captured  bool
	reverted  bool
}

// NewRollback captures the current metric/MTU baseline for luid. serverIP
// may be the zero value if no host route was ever pinned.
func NewRollback(luid uint64, serverIP netip.Addr) (*Rollback, error) {
	r := &Rollback{luid: luid, serverIP: serverIP}

	okV4 := r.saveIface(windows.AF_INET, &r.v4)
	okV6 := r.saveIface(windows.AF_INET6, &r.v6)
	if !okV4 && !okV6 {
		return nil, fmt.Errorf("network: rollback: failed to capture baseline for either family")
	}
	r.captured = true
	corelog.Log.Debugf("network", "rollback baseline captured v4=%v v6=%v", okV4, okV6)
	return r, nil
}

func (r *Rollback) saveIface(family uint16, snap *ifaceSnapshot) bool {
	var row mibIPInterfaceRow
	*(*uint16)(unsafe.Pointer(&row.data[ipIfFamily])) = family
	*(*uint64)(unsafe.Pointer(&row.data[ipIfLUID])) = r.luid
	procInitializeIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row)))
	*(*uint16)(unsafe.Pointer(&row.data[ipIfFamily])) = family
	*(*uint64)(unsafe.Pointer(&row.data[ipIfLUID])) = r.luid

	if rc, _, _ := procGetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row))); rc != 0 {
		return false
	}
	snap.have = true
	snap.autoMetric = row.data[ipIfUseAutometric]
	snap.metric = *(*uint32)(unsafe.Pointer(&row.data[ipIfMetric]))
	snap.mtu = *(*uint32)(unsafe.Pointer(&row.data[ipIfNlMtu]))
	return true
}

func (r *Rollback) restoreIface(family uint16, snap ifaceSnapshot) bool {
	if !snap.have {
		return true
	}
	var row mibIPInterfaceRow
	*(*uint16)(unsafe.Pointer(&row.data[ipIfFamily])) = family
	*(*uint64)(unsafe.Pointer(&row.data[ipIfLUID])) = r.luid
	if rc, _, _ := procGetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row))); rc != 0 {
		return false
	}

	row.data[ipIfUseAutometric] = snap.autoMetric
	*(*uint32)(unsafe.Pointer(&row.data[ipIfMetric])) = snap.metric
	rc1, _, _ := procSetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row)))
	ok1 := rc1 == 0 || rc1 == errInvalidParameter
	if !ok1 {
		corelog.Log.Warnf("network", "restore metric fam=%d rc=0x%x", family, rc1)
	}

	if rc, _, _ := procGetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row))); rc != 0 {
		return ok1
	}
	*(*uint32)(unsafe.Pointer(&row.data[ipIfNlMtu])) = snap.mtu
	rc2, _, _ := procSetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(&row)))
	ok2 := rc2 == 0 || rc2 == errInvalidParameter
	if !ok2 {
		corelog.Log.Warnf("network", "restore mtu fam=%d rc=0x%x", family, rc2)
	}
	return ok1 && ok2
}

// deleteRoutesWhere walks the family's forward table and deletes every row
// keep reports true for.
func deleteRoutesWhere(family uint16, keep func(base uintptr) bool) (bool, int) {
	var table uintptr
	rc, _, _ := procGetIpForwardTable2.Call(uintptr(family), uintptr(unsafe.Pointer(&table)))
	if rc != 0 {
		corelog.Log.Errorf("network", "GetIpForwardTable2(fam=%d) rc=0x%x", family, rc)
		return false, 0
	}
	defer procFreeMibTable.Call(table)

	numEntries := *(*uint32)(unsafe.Pointer(table))
	const rowSize = uintptr(104)
	headerSize := unsafe.Sizeof(uint64(0))

	ok := true
	removed := 0
	for i := uint32(0); i < numEntries; i++ {
		base := table + headerSize + uintptr(i)*rowSize
		if !keep(base) {
			continue
		}
		var row mibIPForwardRow2
		copy(row.data[:], (*[104]byte)(unsafe.Pointer(base))[:])
		if r2, _, _ := procDeleteIpForwardEntry2.Call(uintptr(unsafe.Pointer(&row))); r2 != 0 {
			corelog.Log.Warnf("network", "DeleteIpForwardEntry2(fam=%d) rc=0x%x", family, r2)
			ok = false
			continue
		}
		removed++
	}
	return ok, removed
}

func isSplitDefaultDest(base uintptr, family uint16, zero, half netip.Addr) bool {
	if *(*uint16)(unsafe.Pointer(base + fwdDestFamily)) != family {
		return false
	}
	if *(*byte)(unsafe.Pointer(base + fwdDestPrefixLen)) != 1 {
		return false
	}
	width := addrWidth(zero)
	dst := readAddr((*[16]byte)(unsafe.Pointer(base + fwdDestAddr))[:width], family)
	return dst == zero || dst == half
}

func (r *Rollback) removeSplitDefaults() error {
	ok4, n4 := deleteRoutesWhere(windows.AF_INET, func(base uintptr) bool {
		if *(*uint64)(unsafe.Pointer(base + fwdInterfaceLUID)) != r.luid {
			return false
		}
		if *(*int32)(unsafe.Pointer(base + fwdProtocol)) != netmgmtProtocol {
			return false
		}
		return isSplitDefaultDest(base, windows.AF_INET,
			netip.MustParseAddr("0.0.0.0"), netip.MustParseAddr("128.0.0.0"))
	})
	ok6, n6 := deleteRoutesWhere(windows.AF_INET6, func(base uintptr) bool {
		if *(*uint64)(unsafe.Pointer(base + fwdInterfaceLUID)) != r.luid {
			return false
		}
		if *(*int32)(unsafe.Pointer(base + fwdProtocol)) != netmgmtProtocol {
			return false
		}
		return isSplitDefaultDest(base, windows.AF_INET6,
			netip.MustParseAddr("::"), netip.MustParseAddr("8000::"))
	})
	if !ok4 && !ok6 {
		return fmt.Errorf("network: rollback: failed to remove split-default routes")
	}
	corelog.Log.Infof("network", "removed split-default routes v4=%d v6=%d", n4, n6)
	return nil
}

func (r *Rollback) removePinnedRoute() error {
	if !r.serverIP.IsValid() {
		return nil
	}
	family := familyOf(r.serverIP)
	prefixLen := byte(32)
	if r.serverIP.Is6() {
		prefixLen = 128
	}
	width := addrWidth(r.serverIP)

	ok, n := deleteRoutesWhere(family, func(base uintptr) bool {
		if *(*int32)(unsafe.Pointer(base + fwdProtocol)) != netmgmtProtocol {
			return false
		}
		if *(*byte)(unsafe.Pointer(base + fwdDestPrefixLen)) != prefixLen {
			return false
		}
		dst := readAddr((*[16]byte)(unsafe.Pointer(base + fwdDestAddr))[:width], family)
		return dst == r.serverIP
	})
	if !ok {
		return fmt.Errorf("network: rollback: failed to remove pinned route to %s", r.serverIP)
	}
	corelog.Log.Infof("network", "removed %d pinned route(s) to %s", n, r.serverIP)
	return nil
}

func (r *Rollback) restoreBaseline() error {
	ok4 := r.restoreIface(windows.AF_INET, r.v4)
	ok6 := r.restoreIface(windows.AF_INET6, r.v6)
	if !ok4 || !ok6 {
		return fmt.Errorf("network: rollback: failed to restore interface metric/mtu")
	}
	return nil
}

// Revert undoes every change this orchestrator made to the system's
// network state: split-default routes, the pinned host route, and the
// interface metric/MTU baseline. It always attempts all three steps even
// if an earlier one fails, matching the original implementation's
// best-effort teardown, and returns the first error encountered (if any)
// after every step has been tried. A second call is a logic error, matching
// the original's Revert throwing on repeated use.
func (r *Rollback) Revert() error {
	if r.reverted {
		return fmt.Errorf("network: rollback: Revert called twice")
	}
	if !r.captured {
		return fmt.Errorf("network: rollback: Revert called without a captured baseline")
	}

	var firstErr error
	record := func(step string, err error) {
		if err != nil {
			corelog.Log.Errorf("network", "rollback: %s failed: %v", step, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	record("remove split-defaults", r.removeSplitDefaults())
	record("remove pinned route", r.removePinnedRoute())
	record("restore baseline", r.restoreBaseline())

	r.reverted = true
	if firstErr != nil {
		return fmt.Errorf("network: rollback: one or more steps failed: %w", firstErr)
	}
	corelog.Log.Infof("network", "rollback complete")
	return nil
}
