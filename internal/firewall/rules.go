//go:build windows

// Package firewall manages Windows Firewall outbound-allow rules for the
// tunnel client process via COM automation (HNetCfg.FwPolicy2), snapshotting
// whatever rule previously existed under each name so Revert can put it
// back instead of merely deleting what was added.
package firewall

import (
	"fmt"
	"strings"

	"flowforge/internal/corelog"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// Protocol selects the transport protocol an allow rule covers.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "UDP"
	}
	return "TCP"
}

func (p Protocol) wireValue() int32 {
	if p == ProtocolUDP {
		return netFwIPProtocolUDP
	}
	return netFwIPProtocolTCP
}

const (
	netFwIPProtocolTCP = 6
	netFwIPProtocolUDP = 17

	netFwRuleDirOut = 2
	netFwActionAllow = 1
	netFwProfile2All = 2147483647
)

// snapshot is the subset of INetFwRule properties worth preserving, read
// back before Allow overwrites (or creates) a rule under the same name.
type snapshot struct {
	present          bool
	name             string
	description      string
	direction        int32
	action           int32
	enabled          bool
	profiles         int32
	interfaceTypes   string
	protocol         int32
	remoteAddresses  string
	remotePorts      string
	applicationName  string
}

// entry tracks one rule Allow installed, so Revert can undo it in reverse
// order of creation.
type entry struct {
	proto    Protocol
	port     uint16
	name     string
	snap     snapshot
	hadBefore bool
	touched  bool
}

// Manager owns every outbound allow rule this run has installed under a
// fixed name prefix, and restores prior Windows Firewall state on Revert.
type Manager struct {
	rulePrefix string
	appPath    string
	serverIP   string

	entries []entry
	applied bool
}

// New validates the rule configuration and returns a Manager ready to
// Allow. rulePrefix names every rule this manager creates (e.g. "FlowForge"),
// appPath is the absolute path to the client executable the rule scopes
// traffic to, and serverIP is the transport server address rules permit.
func New(rulePrefix, appPath, serverIP string) (*Manager, error) {
	if rulePrefix == "" {
		return nil, fmt.Errorf("firewall: rule_prefix is empty")
	}
	if appPath == "" {
		return nil, fmt.Errorf("firewall: app_path is empty")
	}
	if serverIP == "" {
		return nil, fmt.Errorf("firewall: server_ip is empty")
	}
	return &Manager{rulePrefix: rulePrefix, appPath: appPath, serverIP: serverIP}, nil
}

func (m *Manager) ruleName(proto Protocol, port uint16) string {
	return fmt.Sprintf("%s Out %s to %s:%d", m.rulePrefix, proto, m.serverIP, port)
}

func getRules() (*ole.IDispatch, func(), error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		return nil, nil, fmt.Errorf("firewall: CoInitializeEx: %w", err)
	}
	cleanupCOM := func() { ole.CoUninitialize() }

	unknown, err := oleutil.CreateObject("HNetCfg.FwPolicy2")
	if err != nil {
		cleanupCOM()
		return nil, nil, fmt.Errorf("firewall: CreateObject(HNetCfg.FwPolicy2): %w", err)
	}
	policy, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		cleanupCOM()
		return nil, nil, fmt.Errorf("firewall: QueryInterface(IDispatch): %w", err)
	}

	rulesVariant, err := oleutil.GetProperty(policy, "Rules")
	if err != nil {
		policy.Release()
		cleanupCOM()
		return nil, nil, fmt.Errorf("firewall: get Rules: %w", err)
	}
	rules := rulesVariant.ToIDispatch()

	cleanup := func() {
		rulesVariant.Clear()
		policy.Release()
		cleanupCOM()
	}
	return rules, cleanup, nil
}

func findRule(rules *ole.IDispatch, name string) (*ole.IDispatch, error) {
	item, err := oleutil.CallMethod(rules, "Item", name)
	if err != nil {
		return nil, nil // not present
	}
	disp := item.ToIDispatch()
	if disp == nil {
		return nil, nil
	}
	return disp, nil
}

func readSnapshot(rules *ole.IDispatch, name string) snapshot {
	rule, err := findRule(rules, name)
	if err != nil || rule == nil {
		return snapshot{present: false}
	}
	defer rule.Release()

	s := snapshot{present: true, name: name}
	if v, err := oleutil.GetProperty(rule, "Description"); err == nil {
		s.description = v.ToString()
	}
	if v, err := oleutil.GetProperty(rule, "Direction"); err == nil {
		s.direction = int32(v.Val)
	}
	if v, err := oleutil.GetProperty(rule, "Action"); err == nil {
		s.action = int32(v.Val)
	}
	if v, err := oleutil.GetProperty(rule, "Enabled"); err == nil {
		s.enabled = v.Value().(bool)
	}
	if v, err := oleutil.GetProperty(rule, "Profiles"); err == nil {
		s.profiles = int32(v.Val)
	}
	if v, err := oleutil.GetProperty(rule, "InterfaceTypes"); err == nil {
		s.interfaceTypes = v.ToString()
	}
	if v, err := oleutil.GetProperty(rule, "Protocol"); err == nil {
		s.protocol = int32(v.Val)
	}
	if v, err := oleutil.GetProperty(rule, "RemoteAddresses"); err == nil {
		s.remoteAddresses = v.ToString()
	}
	if v, err := oleutil.GetProperty(rule, "RemotePorts"); err == nil {
		s.remotePorts = v.ToString()
	}
	if v, err := oleutil.GetProperty(rule, "ApplicationName"); err == nil {
		s.applicationName = v.ToString()
	}
	return s
}

func removeIfExists(rules *ole.IDispatch, name string) {
	rule, err := findRule(rules, name)
	if err != nil || rule == nil {
		return
	}
	rule.Release()
	oleutil.CallMethod(rules, "Remove", name)
}

func newRuleObject() (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject("HNetCfg.FWRule")
	if err != nil {
		return nil, fmt.Errorf("firewall: CreateObject(HNetCfg.FWRule): %w", err)
	}
	defer unknown.Release()
	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("firewall: QueryInterface(IDispatch): %w", err)
	}
	return disp, nil
}

func upsertOutbound(rules *ole.IDispatch, m *Manager, proto Protocol, port uint16, name string) error {
	rule, err := newRuleObject()
	if err != nil {
		return err
	}
	defer rule.Release()

	props := [][2]any{
		{"Name", name},
		{"Description", "VPN client outbound allow"},
		{"Direction", int32(netFwRuleDirOut)},
		{"Action", int32(netFwActionAllow)},
		{"Enabled", true},
		{"Profiles", int32(netFwProfile2All)},
		{"InterfaceTypes", "All"},
		{"Protocol", proto.wireValue()},
		{"RemoteAddresses", m.serverIP},
		{"RemotePorts", fmt.Sprintf("%d", port)},
		{"ApplicationName", m.appPath},
	}
	for _, p := range props {
		if _, err := oleutil.PutProperty(rule, p[0].(string), p[1]); err != nil {
			return fmt.Errorf("firewall: set %s: %w", p[0], err)
		}
	}

	removeIfExists(rules, name)
	if _, err := oleutil.CallMethod(rules, "Add", rule); err != nil {
		return fmt.Errorf("firewall: Rules.Add: %w", err)
	}
	return nil
}

func restoreFromSnapshot(rules *ole.IDispatch, s snapshot) error {
	if !s.present {
		return nil
	}
	rule, err := newRuleObject()
	if err != nil {
		return err
	}
	defer rule.Release()

	props := [][2]any{
		{"Name", s.name},
		{"Description", s.description},
		{"Direction", s.direction},
		{"Action", s.action},
		{"Enabled", s.enabled},
		{"Profiles", s.profiles},
		{"InterfaceTypes", s.interfaceTypes},
		{"Protocol", s.protocol},
		{"RemoteAddresses", s.remoteAddresses},
		{"RemotePorts", s.remotePorts},
		{"ApplicationName", s.applicationName},
	}
	for _, p := range props {
		if _, err := oleutil.PutProperty(rule, p[0].(string), p[1]); err != nil {
			return fmt.Errorf("firewall: restore set %s: %w", p[0], err)
		}
	}

	removeIfExists(rules, s.name)
	if _, err := oleutil.CallMethod(rules, "Add", rule); err != nil {
		return fmt.Errorf("firewall: Rules.Add(restore): %w", err)
	}
	return nil
}

// Allow installs (or idempotently confirms) an outbound allow rule for
// proto/port to the configured server, snapshotting whatever rule
// previously occupied that name.
func (m *Manager) Allow(proto Protocol, port uint16) error {
	if port == 0 {
		return fmt.Errorf("firewall: port is zero")
	}
	for _, e := range m.entries {
		if e.proto == proto && e.port == port {
			return nil
		}
	}

	name := m.ruleName(proto, port)
	rules, cleanup, err := getRules()
	if err != nil {
		return err
	}
	defer cleanup()

	snap := readSnapshot(rules, name)
	e := entry{proto: proto, port: port, name: name, snap: snap, hadBefore: snap.present}

	if err := upsertOutbound(rules, m, proto, port, name); err != nil {
		return err
	}
	e.touched = true

	m.entries = append(m.entries, e)
	m.applied = true
	corelog.Log.Infof("firewall", "allow rule installed: %s", name)
	return nil
}

// Revert removes every rule this manager installed, in reverse order, and
// restores whatever rule previously occupied each name. It always attempts
// every entry even if one step fails, and reports the first error (if any)
// after all entries have been tried.
func (m *Manager) Revert() error {
	if !m.applied {
		return nil
	}

	rules, cleanup, err := getRules()
	if err != nil {
		return err
	}
	defer cleanup()

	var firstErr error
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.touched {
			removeIfExists(rules, e.name)
		}
		if e.hadBefore {
			if err := restoreFromSnapshot(rules, e.snap); err != nil {
				corelog.Log.Errorf("firewall", "restore %s failed: %v", e.name, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	m.entries = nil
	m.applied = false
	if firstErr != nil {
		return fmt.Errorf("firewall: revert: one or more operations failed: %w", firstErr)
	}
	corelog.Log.Infof("firewall", "revert complete")
	return nil
}

// RemoveByPrefix deletes every firewall rule whose name starts with prefix,
// regardless of which run created them. Used for a clean-slate recovery
// path when a previous run crashed before it could Revert.
func RemoveByPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("firewall: empty prefix")
	}
	rules, cleanup, err := getRules()
	if err != nil {
		return err
	}
	defer cleanup()

	enumProp, err := rules.GetProperty("_NewEnum")
	if err != nil {
		return fmt.Errorf("firewall: get _NewEnum: %w", err)
	}
	defer enumProp.Clear()

	enum, err := enumProp.ToIUnknown().IEnumVARIANT(ole.IID_IEnumVariant)
	if err != nil || enum == nil {
		return fmt.Errorf("firewall: IEnumVARIANT: %w", err)
	}

	var toRemove []string
	for item, length, err := enum.Next(1); length > 0; item, length, err = enum.Next(1) {
		if err != nil {
			break
		}
		disp := item.ToIDispatch()
		nameVar, propErr := oleutil.GetProperty(disp, "Name")
		disp.Release()
		if propErr != nil {
			continue
		}
		name := nameVar.ToString()
		if strings.HasPrefix(name, prefix) {
			toRemove = append(toRemove, name)
		}
	}

	for _, name := range toRemove {
		oleutil.CallMethod(rules, "Remove", name)
	}
	corelog.Log.Infof("firewall", "removed %d rule(s) with prefix %q", len(toRemove), prefix)
	return nil
}
