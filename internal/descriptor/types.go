// Package descriptor defines the per-machine descriptor file and loads,
// validates and saves it.
//
// A descriptor lives at <machines_dir>/<name>/machine.yaml. It is validated
// once, when it is loaded: every field error is collected and reported
// together, so operations can rely on a loaded Machine being well formed.
package descriptor

import "time"

// Machine is the on-disk description of one virtual machine.
type Machine struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid,omitempty"`

	// Created is set by create and clone. Older descriptors lack it.
	Created time.Time `yaml:"created,omitempty"`

	// MemMiB is the guest memory in MiB.
	MemMiB int `yaml:"mem"`
	SMP    int `yaml:"smp,omitempty"`

	Discs []Disc `yaml:"discs,omitempty"`
	NICs  []NIC  `yaml:"nics,omitempty"`

	ISO  string `yaml:"iso,omitempty"`
	BIOS string `yaml:"bios,omitempty"`

	// Optional overrides of the global defaults.
	Qemu     string `yaml:"qemu,omitempty"`
	Accel    string `yaml:"accel,omitempty"`
	CPU      string `yaml:"cpu,omitempty"`
	Machine  string `yaml:"machine,omitempty"`
	Keyboard string `yaml:"keyboard,omitempty"`

	// ExtraArgs are appended to the hypervisor command line, shell-quoted.
	ExtraArgs string `yaml:"extra_args,omitempty"`

	CloudInit *CloudInit `yaml:"cloud_init,omitempty"`
}

// Disc is a disk image colocated with the descriptor.
type Disc struct {
	Interface string `yaml:"interface"` // -drive if=
	File      string `yaml:"file"`      // bare file name
}

// NIC is a network adapter attached to a host bridge.
type NIC struct {
	Model  string `yaml:"model"`
	MAC    string `yaml:"mac"`
	Bridge string `yaml:"bridge"`
}

// CloudInit requests a NoCloud seed image to be generated at start.
type CloudInit struct {
	SSHKeys []string `yaml:"ssh_keys,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Machine) Clone() *Machine {
	c := *m
	c.Discs = append([]Disc(nil), m.Discs...)
	c.NICs = append([]NIC(nil), m.NICs...)
	if m.CloudInit != nil {
		ci := *m.CloudInit
		ci.SSHKeys = append([]string(nil), m.CloudInit.SSHKeys...)
		c.CloudInit = &ci
	}
	return &c
}

// MACs returns the MAC address of every NIC, in order.
func (m *Machine) MACs() []string {
	macs := make([]string, 0, len(m.NICs))
	for _, n := range m.NICs {
		macs = append(macs, n.MAC)
	}
	return macs
}
