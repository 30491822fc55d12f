//go:build windows

// Package lifecycle owns the Start/Stop/IsRunning surface: it runs the
// full orchestrator body on a background goroutine, unwinding every
// already-constructed component in reverse order if a later step fails,
// and tears everything down cooperatively when Stop clears the shared
// working flag.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"flowforge/internal/adapter"
	"flowforge/internal/corelog"
	"flowforge/internal/dnsoverride"
	"flowforge/internal/firewall"
	"flowforge/internal/forwarder"
	"flowforge/internal/network"
	"flowforge/internal/plugin"
	"flowforge/internal/vpnconfig"
	"flowforge/internal/watcher"

	"golang.org/x/sys/windows"
)

const rulePrefix = "FlowForge"

// watcherDebounce is the client's net-change debounce window; the original
// server side used a longer 1500ms window, the client 1000ms.
const watcherDebounce = 1000 * time.Millisecond

// Controller exposes the C-ABI-shaped Start/Stop/IsRunning surface used by
// both the cgo host and the CLI wrapper.
type Controller struct {
	started atomic.Bool
	working int32 // shared stop flag; plugin polls *working via the C ABI
}

// New returns an idle Controller.
func New() *Controller { return &Controller{} }

// IsRunning reports whether a Start has completed (or is in flight) and no
// Stop has completed since.
func (c *Controller) IsRunning() bool {
	return c.started.Load()
}

// Start launches the orchestrator on a background goroutine from the given
// JSON configuration text. Returns immediately; 0 on success, -1 if already
// running.
func (c *Controller) Start(configText string) int {
	if !c.started.CompareAndSwap(false, true) {
		return -1
	}
	atomic.StoreInt32(&c.working, 1)

	go func() {
		defer c.started.Store(false)
		if err := c.run(configText); err != nil {
			corelog.Log.Errorf("lifecycle", "run: %v", err)
		}
	}()
	return 0
}

// Stop signals the worker to exit and joins it on a detached goroutine so
// the caller never blocks. Returns 0 if a stop was signaled, -2 if nothing
// was running.
func (c *Controller) Stop() int {
	if !c.started.Load() {
		return -2
	}
	atomic.StoreInt32(&c.working, 0)
	go func() {
		for c.started.Load() {
			time.Sleep(20 * time.Millisecond)
		}
		corelog.Log.Infof("lifecycle", "worker joined")
	}()
	return 0
}

func isElevated() bool {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_QUERY, &token); err != nil {
		corelog.Log.Warnf("lifecycle", "OpenProcessToken failed; assuming not elevated: %v", err)
		return false
	}
	defer token.Close()
	return token.IsElevated()
}

// modulePath resolves the current executable's path, growing the buffer
// once from MAX_PATH to 4096 wide characters before giving up -- matching
// the original's exact two-step growth policy rather than looping until
// success.
func modulePath() (string, error) {
	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetModuleFileName(0, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("lifecycle: GetModuleFileName: %w", err)
	}
	if int(n) < len(buf) {
		return windows.UTF16ToString(buf[:n]), nil
	}

	big := make([]uint16, 4096)
	n, err = windows.GetModuleFileName(0, &big[0], uint32(len(big)))
	if err != nil || int(n) >= len(big) {
		return "", fmt.Errorf("lifecycle: GetModuleFileName: long path unresolved")
	}
	return windows.UTF16ToString(big[:n]), nil
}

func stripBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

// resolveFirewallAddresses resolves host to a deduplicated, sorted CSV list
// of literal addresses for the firewall rule's RemoteAddresses field,
// falling back to the literal host string when resolution fails or yields
// nothing -- fixing the original's address-join bug (which silently kept
// only the last resolved address) via strings.Join over the full set.
func resolveFirewallAddresses(host string) string {
	h := stripBrackets(host)
	addrs, err := net.LookupHost(h)
	if err != nil || len(addrs) == 0 {
		corelog.Log.Warnf("firewallrules", "resolve %s failed, using literal", h)
		return h
	}

	seen := make(map[string]bool, len(addrs))
	var uniq []string
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			uniq = append(uniq, a)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ",")
}

// run is the full orchestrator body. Every constructed resource is torn
// down, in reverse order, either by an explicit unwind on an
// initialization failure or by the deferred teardown once Client_Serve
// returns.
func (c *Controller) run(configText string) error {
	if !isElevated() {
		return fmt.Errorf("lifecycle: administrator privileges required")
	}

	resolved, err := vpnconfig.Parse([]byte(configText))
	if err != nil {
		return err
	}

	serverHost := stripBrackets(resolved.ServerHost)
	exePath, err := modulePath()
	if err != nil {
		return err
	}

	fw, err := firewall.New(rulePrefix, exePath, resolveFirewallAddresses(serverHost))
	if err != nil {
		return err
	}
	if err := fw.Allow(firewall.ProtocolUDP, uint16(resolved.Port)); err != nil {
		return fmt.Errorf("lifecycle: firewall allow: %w", err)
	}
	defer func() {
		if err := fw.Revert(); err != nil {
			corelog.Log.Errorf("lifecycle", "firewall revert: %v", err)
		}
	}()

	plug, err := plugin.Load(resolved.PluginPath)
	if err != nil {
		return err
	}
	defer plug.Unload()

	session, err := adapter.Open(resolved.TUN)
	if err != nil {
		return err
	}
	defer session.Close()

	luid := session.LUID()
	serverIP, serverIsIP := netipParse(serverHost)

	var pinnedIP netip.Addr
	if serverIsIP {
		pinnedIP = serverIP
	}
	rollback, err := network.NewRollback(luid, pinnedIP)
	if err != nil {
		return err
	}
	defer func() {
		if err := rollback.Revert(); err != nil {
			corelog.Log.Errorf("network", "rollback revert: %v", err)
		}
	}()

	if _, err := network.Configure(luid, resolved.Plan, serverIP, false); err != nil {
		corelog.Log.Errorf("network", "initial v4 configure: %v", err)
	}
	if _, err := network.Configure(luid, resolved.Plan, serverIP, true); err != nil {
		corelog.Log.Errorf("network", "initial v6 configure: %v", err)
	}

	dnsOverride := dnsoverride.New(luid)
	if err := dnsOverride.Apply(resolved.DNS); err != nil {
		return fmt.Errorf("lifecycle: dns apply: %w", err)
	}
	defer func() {
		if err := dnsOverride.Revert(); err != nil {
			corelog.Log.Errorf("dns", "revert: %v", err)
		}
	}()

	reapply := func() {
		corelog.Log.Debugf("netwatcher", "reconfiguring routes for %s", serverHost)
		_, errV4 := network.Configure(luid, resolved.Plan, serverIP, false)
		_, errV6 := network.Configure(luid, resolved.Plan, serverIP, true)
		if errV4 != nil && errV6 != nil {
			corelog.Log.Errorf("netwatcher", "neither IPv4 nor IPv6 reconfigured: v4=%v v6=%v", errV4, errV6)
		}
	}
	watch, err := watcher.New(watcherDebounce, reapply)
	if err != nil {
		return err
	}
	defer watch.Stop()

	bridge := forwarder.New(session)

	configJSON, _ := json.Marshal(map[string]any{
		"server": serverHost,
		"port":   resolved.Port,
	})
	if !plug.ClientConnect(configJSON) {
		return fmt.Errorf("lifecycle: plugin Client_Connect failed")
	}
	defer plug.ClientDisconnect()

	corelog.Log.Infof("lifecycle", "serve loop starting")
	rc := plug.ClientServe(bridge.ReceiveFromNet, bridge.SendToNet, &c.working)
	corelog.Log.Infof("lifecycle", "serve loop exited rc=%d", rc)
	return nil
}

func netipParse(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
