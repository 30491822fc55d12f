//go:build windows

// Package dnsoverride points the tunnel interface at specific resolvers by
// writing the NameServer value under its Tcpip/Tcpip6 interface registry
// key directly, snapshotting whatever was there before so Revert can put
// it back.
package dnsoverride

import (
	"fmt"
	"net/netip"
	"strings"
	"unsafe"

	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var (
	modIPHlpAPI                     = windows.NewLazySystemDLL("iphlpapi.dll")
	procConvertInterfaceLuidToGuid  = modIPHlpAPI.NewProc("ConvertInterfaceLuidToGuid")
	modOle32                        = windows.NewLazySystemDLL("ole32.dll")
	procStringFromGUID2             = modOle32.NewProc("StringFromGUID2")
	modDnsapi                       = windows.NewLazySystemDLL("dnsapi.dll")
	procDnsFlushResolverCache       = modDnsapi.NewProc("DnsFlushResolverCache")
)

func basePathForFamily(isV6 bool) string {
	if isV6 {
		return `SYSTEM\CurrentControlSet\Services\Tcpip6\Parameters\Interfaces\`
	}
	return `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces\`
}

func luidToGUIDString(luid uint64) (string, error) {
	var guid windows.GUID
	r, _, _ := procConvertInterfaceLuidToGuid.Call(
		uintptr(unsafe.Pointer(&luid)),
		uintptr(unsafe.Pointer(&guid)),
	)
	if r != 0 {
		return "", fmt.Errorf("dnsoverride: ConvertInterfaceLuidToGuid: 0x%x", r)
	}

	buf := make([]uint16, 64)
	n, _, _ := procStringFromGUID2.Call(
		uintptr(unsafe.Pointer(&guid)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if n == 0 {
		return "", fmt.Errorf("dnsoverride: StringFromGUID2 failed")
	}
	return windows.UTF16ToString(buf), nil
}

func openInterfaceKey(basePath, guidStr string, access uint32) (registry.Key, error) {
	path := basePath + guidStr
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, access|registry.WOW64_64KEY)
	if err != nil {
		return 0, fmt.Errorf("dnsoverride: OpenKey(%s): %w", path, err)
	}
	return k, nil
}

func writeNameServer(k registry.Key, value string) error {
	if value == "" {
		if err := k.DeleteValue("NameServer"); err != nil && err != registry.ErrNotExist {
			return fmt.Errorf("dnsoverride: DeleteValue(NameServer): %w", err)
		}
		return nil
	}
	if err := k.SetStringValue("NameServer", value); err != nil {
		return fmt.Errorf("dnsoverride: SetStringValue(NameServer): %w", err)
	}
	return nil
}

func readNameServer(basePath, guidStr string) (value string, present bool, err error) {
	k, err := openInterfaceKey(basePath, guidStr, registry.QUERY_VALUE)
	if err != nil {
		return "", false, err
	}
	defer k.Close()

	value, _, err = k.GetStringValue("NameServer")
	if err == registry.ErrNotExist {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dnsoverride: GetStringValue(NameServer): %w", err)
	}
	return value, true, nil
}

func flushResolverCache() {
	if err := procDnsFlushResolverCache.Find(); err != nil {
		corelog.Log.Warnf("dns", "DnsFlushResolverCache unavailable: %v", err)
		return
	}
	procDnsFlushResolverCache.Call()
}

// Override manages the NameServer registry override for one tunnel
// interface, restoring the previous value (or absence of one) on Revert.
type Override struct {
	luid    uint64
	guidStr string

	applied    bool
	touchedV4  bool
	touchedV6  bool
	prevV4     string
	prevV4Has  bool
	prevV6     string
	prevV6Has  bool
}

// New returns an Override bound to the given adapter LUID. Nothing is
// written until Apply is called.
func New(luid uint64) *Override {
	return &Override{luid: luid}
}

// Apply sets the interface's DNS servers to exactly the given list, split
// by address family, after first recording whatever was configured before.
// servers must not be empty and every entry must parse as an IPv4 or IPv6
// literal.
func (o *Override) Apply(servers []netip.Addr) error {
	if len(servers) == 0 {
		return fmt.Errorf("dnsoverride: servers list is empty")
	}

	o.touchedV4, o.touchedV6 = false, false
	o.prevV4Has, o.prevV6Has = false, false
	o.prevV4, o.prevV6 = "", ""

	if o.guidStr == "" {
		guidStr, err := luidToGUIDString(o.luid)
		if err != nil {
			return err
		}
		o.guidStr = guidStr
	}

	var v4, v6 []string
	for _, s := range servers {
		switch {
		case s.Is4():
			v4 = append(v4, s.String())
		case s.Is6():
			v6 = append(v6, s.String())
		default:
			return fmt.Errorf("dnsoverride: invalid address %s", s)
		}
	}

	var err error
	if o.prevV4, o.prevV4Has, err = readNameServer(basePathForFamily(false), o.guidStr); err != nil {
		return err
	}
	if o.prevV6, o.prevV6Has, err = readNameServer(basePathForFamily(true), o.guidStr); err != nil {
		return err
	}

	if len(v4) > 0 {
		if err := o.setForFamily(false, v4); err != nil {
			return err
		}
		o.touchedV4 = true
	}
	if len(v6) > 0 {
		if err := o.setForFamily(true, v6); err != nil {
			return err
		}
		o.touchedV6 = true
	}

	flushResolverCache()
	o.applied = true
	corelog.Log.Infof("dns", "applied override v4=%d v6=%d", len(v4), len(v6))
	return nil
}

func (o *Override) setForFamily(isV6 bool, servers []string) error {
	k, err := openInterfaceKey(basePathForFamily(isV6), o.guidStr, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	return writeNameServer(k, strings.Join(servers, ","))
}

func (o *Override) unsetForFamily(isV6 bool) error {
	k, err := openInterfaceKey(basePathForFamily(isV6), o.guidStr, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	return writeNameServer(k, "")
}

// Revert restores the interface's DNS configuration to what it was before
// Apply, or clears the override entirely if nothing was configured before.
// It attempts both families even if one fails, and flushes the resolver
// cache unconditionally at the end.
func (o *Override) Revert() error {
	if !o.applied {
		return nil
	}

	var firstErr error
	restoreOne := func(isV6 bool, touched bool, prev string, prevHas bool) {
		if !touched {
			return
		}
		var err error
		if prevHas {
			k, kerr := openInterfaceKey(basePathForFamily(isV6), o.guidStr, registry.SET_VALUE)
			if kerr != nil {
				err = kerr
			} else {
				err = writeNameServer(k, prev)
				k.Close()
			}
		} else {
			err = o.unsetForFamily(isV6)
		}
		if err != nil {
			corelog.Log.Errorf("dns", "revert family v6=%v failed: %v", isV6, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	restoreOne(false, o.touchedV4, o.prevV4, o.prevV4Has)
	restoreOne(true, o.touchedV6, o.prevV6, o.prevV6Has)
	flushResolverCache()

	o.applied = false
	o.touchedV4, o.touchedV6 = false, false
	o.prevV4Has, o.prevV6Has = false, false
	o.prevV4, o.prevV6 = "", ""

	if firstErr != nil {
		return fmt.Errorf("dnsoverride: revert: one or more operations failed: %w", firstErr)
	}
	corelog.Log.Infof("dns", "revert complete")
	return nil
}
