//go:build windows

// Package network assigns interface addressing/MTU/metric to the tunnel
// adapter and pins a host route to the transport server before activating
// split-default routing through it, per address family.
package network

import (
	"fmt"
	"net/netip"
	"unsafe"

	"flowforge/internal/addressplan"
	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
)

var modIPHlpAPI = windows.NewLazySystemDLL("iphlpapi.dll")

var (
	procInitializeIpInterfaceEntry      = modIPHlpAPI.NewProc("InitializeIpInterfaceEntry")
	procGetIpInterfaceEntry             = modIPHlpAPI.NewProc("GetIpInterfaceEntry")
	procSetIpInterfaceEntry             = modIPHlpAPI.NewProc("SetIpInterfaceEntry")
	procInitializeUnicastIpAddressEntry = modIPHlpAPI.NewProc("InitializeUnicastIpAddressEntry")
	procCreateUnicastIpAddressEntry     = modIPHlpAPI.NewProc("CreateUnicastIpAddressEntry")
	procSetUnicastIpAddressEntry        = modIPHlpAPI.NewProc("SetUnicastIpAddressEntry")
	procInitializeIpForwardEntry        = modIPHlpAPI.NewProc("InitializeIpForwardEntry")
	procCreateIpForwardEntry2           = modIPHlpAPI.NewProc("CreateIpForwardEntry2")
	procSetIpForwardEntry2              = modIPHlpAPI.NewProc("SetIpForwardEntry2")
	procGetIpForwardTable2              = modIPHlpAPI.NewProc("GetIpForwardTable2")
	procFreeMibTable                    = modIPHlpAPI.NewProc("FreeMibTable")
	procGetBestRoute2                   = modIPHlpAPI.NewProc("GetBestRoute2")
)

const errObjectAlreadyExists = 0x1392
const errInvalidParameter = 87

// netmgmtProtocol tags every route this orchestrator installs (MIB_IPPROTO_NETMGMT)
// so rollback can find and remove exactly its own footprint.
const netmgmtProtocol = 3

// mibIPInterfaceRow mirrors MIB_IPINTERFACE_ROW (256-byte forward-compatible
// buffer), poked at known offsets -- the same layout rollback.go reads and
// writes for its metric/MTU baseline.
type mibIPInterfaceRow struct{ data [256]byte }

const (
	ipIfFamily        = 0
	ipIfLUID          = 8
	ipIfUseAutometric = 44
	ipIfMetric        = 148
	ipIfNlMtu         = 152
)

// mibUnicastIPAddressRow mirrors MIB_UNICASTIPADDRESS_ROW. The address field
// is wide enough to hold either a v4 (4 bytes) or v6 (16 bytes) literal at
// the same offset; only the family tag and copied length differ.
type mibUnicastIPAddressRow struct{ data [80]byte }

const (
	unicastAddrFamily     = 0
	unicastAddr           = 4
	unicastInterfaceLUID  = 32
	unicastPrefixOrigin   = 44
	unicastSuffixOrigin   = 48
	unicastOnLinkPrefix   = 60
	unicastDadState       = 64
)

// mibIPForwardRow2 mirrors MIB_IPFORWARD_ROW2 (104 bytes, x64), identical
// offsets for v4 and v6 -- only the family tag and address width differ.
type mibIPForwardRow2 struct{ data [104]byte }

const (
	fwdInterfaceLUID  = 0
	fwdInterfaceIndex = 8
	fwdDestFamily     = 12
	fwdDestAddr       = 16
	fwdDestPrefixLen  = 40
	fwdNextHopFamily  = 44
	fwdNextHopAddr    = 48
	fwdMetric         = 84
	fwdProtocol       = 88
)

func familyOf(a netip.Addr) uint16 {
	if a.Is6() {
		return windows.AF_INET6
	}
	return windows.AF_INET
}

func putAddr(dst []byte, a netip.Addr) {
	if a.Is6() {
		b := a.As16()
		copy(dst, b[:])
	} else {
		b := a.As4()
		copy(dst, b[:])
	}
}

func addrWidth(a netip.Addr) int {
	if a.Is6() {
		return 16
	}
	return 4
}

func getIPInterfaceEntry(luid uint64, family uint16, row *mibIPInterfaceRow) error {
	*(*uint16)(unsafe.Pointer(&row.data[ipIfFamily])) = family
	*(*uint64)(unsafe.Pointer(&row.data[ipIfLUID])) = luid
	procInitializeIpInterfaceEntry.Call(uintptr(unsafe.Pointer(row)))
	*(*uint16)(unsafe.Pointer(&row.data[ipIfFamily])) = family
	*(*uint64)(unsafe.Pointer(&row.data[ipIfLUID])) = luid

	if r, _, _ := procGetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(row))); r != 0 {
		return fmt.Errorf("network: GetIpInterfaceEntry: 0x%x", r)
	}
	return nil
}

func setIPInterfaceEntry(row *mibIPInterfaceRow, what string) error {
	r, _, _ := procSetIpInterfaceEntry.Call(uintptr(unsafe.Pointer(row)))
	if r == errInvalidParameter {
		corelog.Log.Warnf("network", "SetIpInterfaceEntry(%s) rc=87, ignored", what)
		return nil
	}
	if r != 0 {
		return fmt.Errorf("network: SetIpInterfaceEntry(%s): 0x%x", what, r)
	}
	return nil
}

// SetMTU sets the interface MTU for one address family. ERROR_INVALID_PARAMETER
// from SetIpInterfaceEntry is downgraded to a warning, matching the original
// configurator's tolerance for interfaces that reject a given knob
// transiently during adapter bring-up.
func SetMTU(luid uint64, family uint16, mtu uint32) error {
	var row mibIPInterfaceRow
	if err := getIPInterfaceEntry(luid, family, &row); err != nil {
		return err
	}
	*(*uint32)(unsafe.Pointer(&row.data[ipIfNlMtu])) = mtu
	return setIPInterfaceEntry(&row, "mtu")
}

// SetMetric sets the interface metric for one address family, disabling
// automatic metric selection so the explicit value takes effect.
func SetMetric(luid uint64, family uint16, metric uint32) error {
	var row mibIPInterfaceRow
	if err := getIPInterfaceEntry(luid, family, &row); err != nil {
		return err
	}
	row.data[ipIfUseAutometric] = 0
	*(*uint32)(unsafe.Pointer(&row.data[ipIfMetric])) = metric
	return setIPInterfaceEntry(&row, "metric")
}

// AddAddress assigns addr/prefixLen on luid, updating an existing entry in
// place if one is already present (CreateUnicastIpAddressEntry returns
// ERROR_OBJECT_ALREADY_EXISTS on repeated runs).
func AddAddress(luid uint64, addr netip.Addr, prefixLen uint8) error {
	var row mibUnicastIPAddressRow
	procInitializeUnicastIpAddressEntry.Call(uintptr(unsafe.Pointer(&row)))

	family := familyOf(addr)
	*(*uint16)(unsafe.Pointer(&row.data[unicastAddrFamily])) = family
	putAddr(row.data[unicastAddr:unicastAddr+addrWidth(addr)], addr)
	*(*uint64)(unsafe.Pointer(&row.data[unicastInterfaceLUID])) = luid
	*(*int32)(unsafe.Pointer(&row.data[unicastPrefixOrigin])) = 1 // Manual
	*(*int32)(unsafe.Pointer(&row.data[unicastSuffixOrigin])) = 1 // Manual
	row.data[unicastOnLinkPrefix] = prefixLen
	*(*int32)(unsafe.Pointer(&row.data[unicastDadState])) = 4 // Preferred

	r, _, _ := procCreateUnicastIpAddressEntry.Call(uintptr(unsafe.Pointer(&row)))
	if r == 0 {
		return nil
	}
	if r == errObjectAlreadyExists {
		if r2, _, _ := procSetUnicastIpAddressEntry.Call(uintptr(unsafe.Pointer(&row))); r2 == 0 {
			return nil
		}
	}
	return fmt.Errorf("network: CreateUnicastIpAddressEntry(%s/%d): 0x%x", addr, prefixLen, r)
}

func newForwardRow(luid uint64, dst netip.Addr, prefixLen uint8, metric uint32) mibIPForwardRow2 {
	var row mibIPForwardRow2
	procInitializeIpForwardEntry.Call(uintptr(unsafe.Pointer(&row)))
	*(*uint64)(unsafe.Pointer(&row.data[fwdInterfaceLUID])) = luid
	family := familyOf(dst)
	*(*uint16)(unsafe.Pointer(&row.data[fwdDestFamily])) = family
	putAddr(row.data[fwdDestAddr:fwdDestAddr+addrWidth(dst)], dst)
	row.data[fwdDestPrefixLen] = prefixLen
	*(*uint16)(unsafe.Pointer(&row.data[fwdNextHopFamily])) = family
	*(*uint32)(unsafe.Pointer(&row.data[fwdMetric])) = metric
	*(*int32)(unsafe.Pointer(&row.data[fwdProtocol])) = netmgmtProtocol
	return row
}

// AddOnLinkRoute ensures a route to dst/prefixLen over luid with gateway as
// its next hop. Used for the split-default halves, gateway being the peer
// address.
func AddOnLinkRoute(luid uint64, dst netip.Addr, prefixLen uint8, gateway netip.Addr, metric uint32) error {
	row := newForwardRow(luid, dst, prefixLen, metric)
	putAddr(row.data[fwdNextHopAddr:fwdNextHopAddr+addrWidth(gateway)], gateway)

	r, _, _ := procCreateIpForwardEntry2.Call(uintptr(unsafe.Pointer(&row)))
	if r == 0 || r == errObjectAlreadyExists {
		return nil
	}
	return fmt.Errorf("network: CreateIpForwardEntry2(%s/%d via %s): 0x%x", dst, prefixLen, gateway, r)
}

// routeEntry is the portable subset of a discovered MIB_IPFORWARD_ROW2 row
// this package reads back out of the system table.
type routeEntry struct {
	luid    uint64
	ifIndex uint32
	nextHop netip.Addr
	metric  uint32
}

// BestRouteTo resolves the best existing route to dest for the address
// family dest belongs to. A missing route is reported as (zero value,
// false, nil) -- absence is not an error.
func BestRouteTo(dest netip.Addr) (routeEntry, bool, error) {
	family := familyOf(dest)

	type sockaddrInet struct {
		family uint16
		_      [2]byte
		addr   [16]byte
		_      [8]byte // pad to SOCKADDR_INET's 28-byte size
	}
	var dst sockaddrInet
	dst.family = family
	copy(dst.addr[:addrWidth(dest)], func() []byte {
		if dest.Is6() {
			b := dest.As16()
			return b[:]
		}
		b := dest.As4()
		return b[:]
	}())

	var row mibIPForwardRow2
	var bestIf struct {
		luid    uint64
		ifIndex uint32
	}
	r, _, _ := procGetBestRoute2.Call(
		0, // InterfaceLuid optional
		0, // InterfaceIndex optional
		0, // SourceAddress optional
		uintptr(unsafe.Pointer(&dst)),
		0,
		uintptr(unsafe.Pointer(&row)),
		uintptr(unsafe.Pointer(&bestIf)),
	)
	if r == uintptr(windows.ERROR_NOT_FOUND) {
		return routeEntry{}, false, nil
	}
	if r != 0 {
		return routeEntry{}, false, fmt.Errorf("network: GetBestRoute2: 0x%x", r)
	}

	return routeEntry{
		luid:    *(*uint64)(unsafe.Pointer(&row.data[fwdInterfaceLUID])),
		ifIndex: *(*uint32)(unsafe.Pointer(&row.data[fwdInterfaceIndex])),
		nextHop: readAddr(row.data[fwdNextHopAddr:], family),
		metric:  *(*uint32)(unsafe.Pointer(&row.data[fwdMetric])),
	}, true, nil
}

func readAddr(b []byte, family uint16) netip.Addr {
	if family == windows.AF_INET6 {
		var a [16]byte
		copy(a[:], b[:16])
		return netip.AddrFrom16(a)
	}
	var a [4]byte
	copy(a[:], b[:4])
	return netip.AddrFrom4(a)
}

// FallbackDefaultExcluding walks the forward table for the lowest-metric
// default route (prefix length 0) of the given family, excluding the
// interface identified by exclude. Used when GetBestRoute2 has no opinion
// because the default route has already been overridden by an earlier run.
func FallbackDefaultExcluding(family uint16, exclude uint64) (routeEntry, bool, error) {
	var table uintptr
	r, _, _ := procGetIpForwardTable2.Call(uintptr(family), uintptr(unsafe.Pointer(&table)))
	if r != 0 {
		return routeEntry{}, false, fmt.Errorf("network: GetIpForwardTable2: 0x%x", r)
	}
	defer procFreeMibTable.Call(table)

	numEntries := *(*uint32)(unsafe.Pointer(table))
	const rowSize = uintptr(104)
	headerSize := unsafe.Sizeof(uint64(0))

	var best routeEntry
	found := false
	for i := uint32(0); i < numEntries; i++ {
		base := table + headerSize + uintptr(i)*rowSize
		fam := *(*uint16)(unsafe.Pointer(base + fwdDestFamily))
		if fam != family {
			continue
		}
		prefixLen := *(*byte)(unsafe.Pointer(base + fwdDestPrefixLen))
		if prefixLen != 0 {
			continue
		}
		luid := *(*uint64)(unsafe.Pointer(base + fwdInterfaceLUID))
		if luid == exclude {
			continue
		}
		metric := *(*uint32)(unsafe.Pointer(base + fwdMetric))
		if !found || metric < best.metric {
			best = routeEntry{
				luid:    luid,
				ifIndex: *(*uint32)(unsafe.Pointer(base + fwdInterfaceIndex)),
				nextHop: readAddr((*[16]byte)(unsafe.Pointer(base + fwdNextHopAddr))[:], family),
				metric:  metric,
			}
			found = true
		}
	}
	return best, found, nil
}

// PinHostRoute installs or updates a /32 (v4) or /128 (v6) route to host via
// the given route entry, tagged with netmgmtProtocol. An existing row at the
// same destination is updated in place (SetIpForwardEntry2) rather than
// deleted and recreated, avoiding an unreachability window.
func PinHostRoute(host netip.Addr, via routeEntry, metric uint32) error {
	family := familyOf(host)
	prefixLen := uint8(32)
	if family == windows.AF_INET6 {
		prefixLen = 128
	}

	existing, found, err := findHostRoute(host, family, prefixLen)
	if err != nil {
		return err
	}
	if found {
		*(*uint64)(unsafe.Pointer(&existing.data[fwdInterfaceLUID])) = via.luid
		putAddr(existing.data[fwdNextHopAddr:fwdNextHopAddr+addrWidth(host)], via.nextHop)
		*(*uint32)(unsafe.Pointer(&existing.data[fwdMetric])) = metric
		*(*int32)(unsafe.Pointer(&existing.data[fwdProtocol])) = netmgmtProtocol
		r, _, _ := procSetIpForwardEntry2.Call(uintptr(unsafe.Pointer(&existing)))
		if r != 0 {
			return fmt.Errorf("network: SetIpForwardEntry2(pin %s): 0x%x", host, r)
		}
		return nil
	}

	row := newForwardRow(via.luid, host, prefixLen, metric)
	putAddr(row.data[fwdNextHopAddr:fwdNextHopAddr+addrWidth(host)], via.nextHop)
	r, _, _ := procCreateIpForwardEntry2.Call(uintptr(unsafe.Pointer(&row)))
	if r == 0 || r == errObjectAlreadyExists {
		return nil
	}
	if family == windows.AF_INET6 {
		return fmt.Errorf("network: CreateIpForwardEntry2(v6 pin %s): 0x%x", host, r)
	}

	corelog.Log.Warnf("network", "CreateIpForwardEntry2(v4 pin %s) rc=0x%x, trying legacy API", host, r)
	return pinHostRouteLegacyV4(host, via, metric)
}

func findHostRoute(host netip.Addr, family uint16, prefixLen uint8) (mibIPForwardRow2, bool, error) {
	var table uintptr
	r, _, _ := procGetIpForwardTable2.Call(uintptr(family), uintptr(unsafe.Pointer(&table)))
	if r != 0 {
		return mibIPForwardRow2{}, false, fmt.Errorf("network: GetIpForwardTable2: 0x%x", r)
	}
	defer procFreeMibTable.Call(table)

	numEntries := *(*uint32)(unsafe.Pointer(table))
	const rowSize = uintptr(104)
	headerSize := unsafe.Sizeof(uint64(0))
	width := addrWidth(host)

	for i := uint32(0); i < numEntries; i++ {
		base := table + headerSize + uintptr(i)*rowSize
		if *(*uint16)(unsafe.Pointer(base + fwdDestFamily)) != family {
			continue
		}
		if *(*byte)(unsafe.Pointer(base + fwdDestPrefixLen)) != prefixLen {
			continue
		}
		candidate := readAddr((*[16]byte)(unsafe.Pointer(base + fwdDestAddr))[:width], family)
		if candidate != host {
			continue
		}
		var row mibIPForwardRow2
		copy(row.data[:], (*[104]byte)(unsafe.Pointer(base))[:])
		return row, true, nil
	}
	return mibIPForwardRow2{}, false, nil
}

// legacyForwardRow mirrors MIB_IPFORWARDROW, the Win7-era IPv4-only routing
// table entry. Kept in use because CreateIpForwardEntry2 has been observed
// to fail on some in-the-field network stacks where the legacy API
// succeeds.
type legacyForwardRow struct {
	dest, mask, policy, nextHop                     uint32
	ifIndex, typ, proto, age, nextHopAS              uint32
	metric1, metric2, metric3, metric4, metric5      int32
}

func pinHostRouteLegacyV4(host netip.Addr, via routeEntry, metric uint32) error {
	procCreateIpForwardEntry := modIPHlpAPI.NewProc("CreateIpForwardEntry")

	dest := host.As4()
	forwardType := uint32(4) // INDIRECT
	var nextHop uint32
	if via.nextHop.IsValid() && via.nextHop != (netip.Addr{}) {
		nh := via.nextHop.As4()
		nextHop = *(*uint32)(unsafe.Pointer(&nh))
	}
	if nextHop == 0 {
		forwardType = 3 // DIRECT
	}

	row := legacyForwardRow{
		dest:    *(*uint32)(unsafe.Pointer(&dest)),
		mask:    0xFFFFFFFF,
		nextHop: nextHop,
		ifIndex: via.ifIndex,
		typ:     forwardType,
		proto:   netmgmtProtocol,
		metric1: int32(metric),
	}
	r, _, _ := procCreateIpForwardEntry.Call(uintptr(unsafe.Pointer(&row)))
	if r != 0 && r != errObjectAlreadyExists {
		return fmt.Errorf("network: CreateIpForwardEntry(legacy v4 pin %s): 0x%x", host, r)
	}
	return nil
}

// Configure runs the full per-family sequence for one address family of plan
// against luid: MTU+address+metric, then (if the server address matches
// this family) pin a host route to serverIP and activate split-default
// routing through the tunnel peer. Returns whether the pin succeeded. The
// callers in internal/lifecycle log a returned error and carry on; the
// watcher's reapply logs an error only when both families failed.
func Configure(luid uint64, plan addressplan.Plan, serverIP netip.Addr, isV6 bool) (pinned bool, err error) {
	var local, peer netip.Addr
	var prefixLen uint8
	if isV6 {
		if !plan.HasV6() {
			return false, nil
		}
		local, peer, prefixLen = plan.Local6, plan.Peer6, 64
	} else {
		if !plan.HasV4() {
			return false, nil
		}
		local, peer, prefixLen = plan.Local4, plan.Peer4, 22
	}
	family := familyOf(local)

	if err := SetMTU(luid, family, uint32(plan.MTU)); err != nil {
		return false, fmt.Errorf("network: set mtu: %w", err)
	}
	if err := AddAddress(luid, local, prefixLen); err != nil {
		return false, fmt.Errorf("network: add address: %w", err)
	}
	if err := SetMetric(luid, family, 1); err != nil {
		return false, fmt.Errorf("network: set metric: %w", err)
	}

	if !serverIP.IsValid() || serverIP.Is6() != isV6 {
		corelog.Log.Infof("network", "pin not needed for this family: server address family differs")
		return false, nil
	}

	best, found, err := BestRouteTo(serverIP)
	if err != nil {
		return false, fmt.Errorf("network: best route: %w", err)
	}
	if !found {
		best, found, err = FallbackDefaultExcluding(family, luid)
		if err != nil {
			return false, fmt.Errorf("network: fallback default route: %w", err)
		}
	}
	if !found {
		corelog.Log.Warnf("network", "no route to server %s before switch", serverIP)
		return false, nil
	}

	if err := PinHostRoute(serverIP, best, 1); err != nil {
		return false, fmt.Errorf("network: pin host route: %w", err)
	}
	corelog.Log.Infof("network", "pinned host route to %s via luid=0x%x", serverIP, best.luid)

	if isV6 {
		if err := AddOnLinkRoute(luid, netip.MustParseAddr("::"), 1, peer, 1); err != nil {
			return true, err
		}
		if err := AddOnLinkRoute(luid, netip.MustParseAddr("8000::"), 1, peer, 1); err != nil {
			return true, err
		}
	} else {
		if err := AddOnLinkRoute(luid, netip.MustParseAddr("0.0.0.0"), 1, peer, 1); err != nil {
			return true, err
		}
		if err := AddOnLinkRoute(luid, netip.MustParseAddr("128.0.0.0"), 1, peer, 1); err != nil {
			return true, err
		}
	}
	corelog.Log.Infof("network", "split-default activated via tunnel peer")
	return true, nil
}
