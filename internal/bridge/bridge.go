// Package bridge prepares host networking for qvm machines: a Linux bridge,
// its address, and tap devices enslaved to it. Every step is idempotent, so
// running the same setup twice changes nothing.
//
// Uses github.com/vishvananda/netlink; no ip(8) or brctl(8) commands are run.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/jbweber/qvm/internal/naming"
)

// DefaultHelperACL is the access list read by qemu-bridge-helper.
const DefaultHelperACL = "/etc/qemu/bridge.conf"

// netlinker is the subset of the netlink API used here.
//
// In production, this is satisfied by *netlink.Handle.
// In tests, this is satisfied by mock implementations.
type netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetMaster(link, master netlink.Link) error
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
}

// Options describe the desired state of one bridge.
type Options struct {
	Bridge  string
	Address string   // CIDR, optional
	Taps    []string // tap devices to create and attach
	// HelperACL, when set, is the qemu-bridge-helper ACL file that must
	// allow the bridge.
	HelperACL string
}

// Validate checks names and the address.
func (o Options) Validate() error {
	if !naming.ValidBridge(o.Bridge) {
		return fmt.Errorf("invalid bridge name %q", o.Bridge)
	}
	if o.Address != "" {
		if _, err := netlink.ParseAddr(o.Address); err != nil {
			return fmt.Errorf("invalid address %q: %w", o.Address, err)
		}
	}
	for _, tap := range o.Taps {
		if !naming.ValidBridge(tap) {
			return fmt.Errorf("invalid tap name %q", tap)
		}
		if tap == o.Bridge {
			return fmt.Errorf("tap %q has the same name as the bridge", tap)
		}
	}
	return nil
}

// Summary describes the current state of a bridge.
type Summary struct {
	Name      string
	Up        bool
	MAC       string
	Addresses []string
	Members   []string
}

func (s Summary) String() string {
	state := "down"
	if s.Up {
		state = "up"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", s.Name, state)
	if s.MAC != "" {
		fmt.Fprintf(&b, " mac %s", s.MAC)
	}
	b.WriteString("\n")
	for _, a := range s.Addresses {
		fmt.Fprintf(&b, "  inet %s\n", a)
	}
	for _, m := range s.Members {
		fmt.Fprintf(&b, "  member %s\n", m)
	}
	return b.String()
}

// Manager applies bridge setups.
type Manager struct {
	nl     netlinker
	handle *netlink.Handle
}

// NewManager opens a netlink handle in the current network namespace.
func NewManager() (*Manager, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("failed to open netlink handle: %w", err)
	}
	return &Manager{nl: h, handle: h}, nil
}

// Close releases the netlink handle.
func (m *Manager) Close() {
	if m.handle != nil {
		m.handle.Close()
	}
}

// Up brings the bridge described by opts into existence.
func (m *Manager) Up(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	br, err := m.ensureLink(&netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: opts.Bridge}})
	if err != nil {
		return err
	}

	if opts.Address != "" {
		if err := m.ensureAddr(br, opts.Address); err != nil {
			return err
		}
	}

	if err := m.nl.LinkSetUp(br); err != nil {
		return fmt.Errorf("failed to set %s up: %w", opts.Bridge, err)
	}

	for _, name := range opts.Taps {
		tap, err := m.ensureLink(&netlink.Tuntap{
			LinkAttrs: netlink.LinkAttrs{Name: name},
			Mode:      netlink.TUNTAP_MODE_TAP,
		})
		if err != nil {
			return err
		}
		if tap.Attrs().MasterIndex != br.Attrs().Index {
			logrus.Infof("Attaching %s to %s", name, opts.Bridge)
			if err := m.nl.LinkSetMaster(tap, br); err != nil {
				return fmt.Errorf("failed to attach %s to %s: %w", name, opts.Bridge, err)
			}
		}
		if err := m.nl.LinkSetUp(tap); err != nil {
			return fmt.Errorf("failed to set %s up: %w", name, err)
		}
	}

	if opts.HelperACL != "" {
		if err := AllowBridge(opts.HelperACL, opts.Bridge); err != nil {
			return err
		}
	}

	return nil
}

// Show reports the state of the named bridge.
func (m *Manager) Show(name string) (Summary, error) {
	br, err := m.nl.LinkByName(name)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to look up %s: %w", name, err)
	}
	if br.Type() != "bridge" {
		return Summary{}, fmt.Errorf("%s is a %s, not a bridge", name, br.Type())
	}

	attrs := br.Attrs()
	s := Summary{
		Name: name,
		Up:   attrs.Flags&net.FlagUp != 0,
	}
	if attrs.HardwareAddr != nil {
		s.MAC = attrs.HardwareAddr.String()
	}

	addrs, err := m.nl.AddrList(br, netlink.FAMILY_ALL)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		s.Addresses = append(s.Addresses, a.IPNet.String())
	}

	links, err := m.nl.LinkList()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list links: %w", err)
	}
	for _, l := range links {
		if l.Attrs().MasterIndex == attrs.Index {
			s.Members = append(s.Members, l.Attrs().Name)
		}
	}
	sort.Strings(s.Members)

	return s, nil
}

// ensureLink returns the existing link named like want, or creates want.
func (m *Manager) ensureLink(want netlink.Link) (netlink.Link, error) {
	name := want.Attrs().Name

	link, err := m.nl.LinkByName(name)
	if err == nil {
		if link.Type() != want.Type() {
			return nil, fmt.Errorf("%s exists but is a %s, not a %s", name, link.Type(), want.Type())
		}
		logrus.Debugf("%s %s already exists", want.Type(), name)
		return link, nil
	}
	var notFound netlink.LinkNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to look up %s: %w", name, err)
	}

	logrus.Infof("Creating %s %s", want.Type(), name)
	if err := m.nl.LinkAdd(want); err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", want.Type(), name, err)
	}

	link, err = m.nl.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s after creating it: %w", name, err)
	}
	return link, nil
}

func (m *Manager) ensureAddr(link netlink.Link, cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", cidr, err)
	}

	existing, err := m.nl.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("failed to list addresses of %s: %w", link.Attrs().Name, err)
	}
	for _, a := range existing {
		if a.Equal(*addr) {
			logrus.Debugf("%s already has %s", link.Attrs().Name, cidr)
			return nil
		}
	}

	logrus.Infof("Adding %s to %s", cidr, link.Attrs().Name)
	if err := m.nl.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", cidr, link.Attrs().Name, err)
	}
	return nil
}

// AllowBridge appends "allow <bridge>" to the qemu-bridge-helper ACL at
// path unless the bridge is already allowed.
func AllowBridge(path, bridge string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	want := "allow " + bridge
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "allow" && (fields[1] == bridge || fields[1] == "all") {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	logrus.Infof("Allowing %s in %s", bridge, path)
	if _, err := f.WriteString(prefix + want + "\n"); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
