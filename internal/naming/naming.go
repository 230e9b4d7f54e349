// Package naming provides the naming conventions shared by every qvm
// command: what a machine, snapshot, bridge or disc file may be called,
// MAC address validation and generation, and where a machine's files live
// inside its directory.
package naming

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"regexp"
)

var (
	nameRE     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	macRE      = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$|^[0-9A-Fa-f]{2}(-[0-9A-Fa-f]{2}){5}$`)
	bridgeRE   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,14}$`)
	fileRE     = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	snapshotRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
)

// Files inside a machine directory.
const (
	DescriptorFile = "machine.yaml"
	PIDFile        = "qemu.pid"
	MonitorSocket  = "monitor.sock"
	ConsoleSocket  = "console.sock"
	QMPSocket      = "qmp.sock"
	SeedISO        = "seed.iso"
	LockFile       = ".lock"
)

// MACPrefix is the QEMU/KVM OUI used for generated addresses.
var MACPrefix = [3]byte{0x52, 0x54, 0x00}

// ValidName reports whether s is an acceptable machine name.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// CheckName returns an error describing why s is not a valid machine name.
func CheckName(s string) error {
	if !ValidName(s) {
		return fmt.Errorf("invalid name %q: must start with a letter or underscore and contain only letters, digits, underscores or hyphens", s)
	}
	return nil
}

// ValidMAC reports whether s is six hex byte pairs separated consistently
// by colons or hyphens.
func ValidMAC(s string) bool {
	return macRE.MatchString(s)
}

// ValidBridge reports whether s can be a Linux bridge interface name.
func ValidBridge(s string) bool {
	return bridgeRE.MatchString(s)
}

// ValidFile reports whether s is a bare file name (no directory part).
func ValidFile(s string) bool {
	return fileRE.MatchString(s) && s != "." && s != ".."
}

// ValidSnapshot reports whether s is an acceptable snapshot tag.
func ValidSnapshot(s string) bool {
	return snapshotRE.MatchString(s)
}

// RandomMAC returns a random unicast address under MACPrefix.
func RandomMAC() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		MACPrefix[0], MACPrefix[1], MACPrefix[2], b[0], b[1], b[2]), nil
}

// DiscFile returns the file name of the i-th disc created for a machine.
// Format: disc{i}.{format} (e.g. "disc0.qcow2")
func DiscFile(i int, format string) string {
	return fmt.Sprintf("disc%d.%s", i, format)
}

// Layout resolves the paths of a single machine's files.
type Layout struct {
	Dir string
}

// NewLayout returns the layout of machine name under machinesDir.
func NewLayout(machinesDir, name string) Layout {
	return Layout{Dir: filepath.Join(machinesDir, name)}
}

// Descriptor returns the path of the machine's descriptor file.
func (l Layout) Descriptor() string { return filepath.Join(l.Dir, DescriptorFile) }

// PIDFile returns the path of the hypervisor PID file.
func (l Layout) PIDFile() string { return filepath.Join(l.Dir, PIDFile) }

// MonitorSocket returns the path of the human monitor socket.
func (l Layout) MonitorSocket() string { return filepath.Join(l.Dir, MonitorSocket) }

// ConsoleSocket returns the path of the serial console socket.
func (l Layout) ConsoleSocket() string { return filepath.Join(l.Dir, ConsoleSocket) }

// QMPSocket returns the path of the QMP control socket.
func (l Layout) QMPSocket() string { return filepath.Join(l.Dir, QMPSocket) }

// SeedISO returns the path of the generated cloud-init seed image.
func (l Layout) SeedISO() string { return filepath.Join(l.Dir, SeedISO) }

// LockFile returns the path of the start lock.
func (l Layout) LockFile() string { return filepath.Join(l.Dir, LockFile) }

// File returns the path of a file colocated with the descriptor.
func (l Layout) File(name string) string { return filepath.Join(l.Dir, name) }

// RuntimeFiles lists the files created while a machine runs. They are never
// copied by clone.
func RuntimeFiles() []string {
	return []string{PIDFile, MonitorSocket, ConsoleSocket, QMPSocket, SeedISO, LockFile}
}
