// Package qemu builds hypervisor command lines from a machine descriptor.
package qemu

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
)

// ProcessPrefix is prepended to the machine name to form the hypervisor's
// process name, so `ps` shows which machine a process belongs to.
const ProcessPrefix = "qvm-"

// Options are per-invocation choices that are not part of the descriptor.
type Options struct {
	// Background detaches the hypervisor (-daemonize).
	Background bool
	// Display is passed to -display when non-empty (e.g. "none", "gtk").
	Display string
	// SeedISO attaches the cloud-init seed image when true.
	SeedISO bool
}

// Cmd is an alias around a string slice, built up one option at a time.
type Cmd []string

// NewBuilder starts a command line with the hypervisor binary.
func NewBuilder(binary string) Cmd {
	return Cmd{binary}
}

// SetName names the guest and the hypervisor process.
func (q *Cmd) SetName(name string) {
	*q = append(*q, "-name", "guest="+name+",process="+ProcessPrefix+name)
}

// SetUUID sets the SMBIOS system UUID.
func (q *Cmd) SetUUID(uuid string) {
	if uuid != "" {
		*q = append(*q, "-uuid", uuid)
	}
}

// SetMachine selects the machine type and accelerator.
func (q *Cmd) SetMachine(machine, accel string) {
	*q = append(*q, "-machine", machine+",accel="+accel)
}

// SetCPU selects the CPU model.
func (q *Cmd) SetCPU(cpu string) {
	*q = append(*q, "-cpu", cpu)
}

// SetCPUs sets the number of virtual CPUs.
func (q *Cmd) SetCPUs(n int) {
	*q = append(*q, "-smp", strconv.Itoa(n))
}

// SetMemory sets the guest memory in MiB.
func (q *Cmd) SetMemory(mib int) {
	*q = append(*q, "-m", strconv.Itoa(mib))
}

// SetKeyboard sets the keyboard layout.
func (q *Cmd) SetKeyboard(layout string) {
	if layout != "" {
		*q = append(*q, "-k", layout)
	}
}

// SetBIOS sets the firmware image.
func (q *Cmd) SetBIOS(path string) {
	if path != "" {
		*q = append(*q, "-bios", path)
	}
}

// AddDisc attaches a disk image.
func (q *Cmd) AddDisc(path, iface string) {
	opts := "file=" + escapeOpt(path) + ",if=" + iface
	if format := FormatFromFile(path); format != "" {
		opts += ",format=" + format
	}
	*q = append(*q, "-drive", opts)
}

// AddCDROM attaches a read-only optical image.
func (q *Cmd) AddCDROM(path string) {
	*q = append(*q, "-drive", "file="+escapeOpt(path)+",media=cdrom,readonly=on")
}

// SetBootOrder sets the firmware boot order.
func (q *Cmd) SetBootOrder(order string) {
	*q = append(*q, "-boot", "order="+order)
}

// AddNIC attaches a NIC to a host bridge through qemu-bridge-helper.
func (q *Cmd) AddNIC(i int, nic descriptor.NIC) {
	id := fmt.Sprintf("net%d", i)
	*q = append(*q,
		"-netdev", "bridge,id="+id+",br="+nic.Bridge,
		"-device", nic.Model+",netdev="+id+",mac="+strings.ReplaceAll(nic.MAC, "-", ":"))
}

// SetNoNetwork disables the default user-mode NIC.
func (q *Cmd) SetNoNetwork() {
	*q = append(*q, "-nic", "none")
}

// SetPIDFile makes the hypervisor write (and lock) its PID file.
func (q *Cmd) SetPIDFile(path string) {
	*q = append(*q, "-pidfile", path)
}

// SetMonitor exposes the human monitor on a Unix socket.
func (q *Cmd) SetMonitor(path string) {
	*q = append(*q, "-monitor", socketChardev(path))
}

// SetSerial exposes the first serial port on a Unix socket.
func (q *Cmd) SetSerial(path string) {
	*q = append(*q, "-serial", socketChardev(path))
}

// SetQMP exposes the QMP control channel on a Unix socket.
func (q *Cmd) SetQMP(path string) {
	*q = append(*q, "-qmp", socketChardev(path))
}

// SetDisplay selects the display backend.
func (q *Cmd) SetDisplay(display string) {
	if display != "" {
		*q = append(*q, "-display", display)
	}
}

// SetDaemonize detaches the hypervisor after start-up.
func (q *Cmd) SetDaemonize() {
	*q = append(*q, "-daemonize")
}

// AddExtraArgs appends shell-quoted arguments.
func (q *Cmd) AddExtraArgs(line string) error {
	if line == "" {
		return nil
	}
	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("failed to parse extra_args: %w", err)
	}
	*q = append(*q, args...)
	return nil
}

// Build returns the argument vector.
func (q *Cmd) Build() []string {
	return *q
}

// BuildCommand assembles the complete hypervisor command line for m.
// Settings must already have been validated.
func BuildCommand(m *descriptor.Machine, s Settings, layout naming.Layout, opts Options) ([]string, error) {
	q := NewBuilder(s.Binary)
	q.SetName(m.Name)
	q.SetUUID(m.UUID)
	q.SetMachine(s.Machine, s.Accel)
	q.SetCPU(s.CPU)
	q.SetCPUs(s.SMP)
	q.SetMemory(m.MemMiB)
	q.SetKeyboard(s.Keyboard)
	q.SetBIOS(m.BIOS)

	for _, d := range m.Discs {
		q.AddDisc(layout.File(d.File), d.Interface)
	}
	if m.ISO != "" {
		q.AddCDROM(m.ISO)
		// Disc first: an empty disc falls through to the installer.
		q.SetBootOrder("cd")
	}
	if opts.SeedISO {
		q.AddCDROM(layout.SeedISO())
	}

	if len(m.NICs) == 0 {
		q.SetNoNetwork()
	}
	for i, nic := range m.NICs {
		q.AddNIC(i, nic)
	}

	q.SetPIDFile(layout.PIDFile())
	q.SetMonitor(layout.MonitorSocket())
	q.SetSerial(layout.ConsoleSocket())
	q.SetQMP(layout.QMPSocket())
	q.SetDisplay(opts.Display)
	if opts.Background {
		q.SetDaemonize()
	}

	if err := q.AddExtraArgs(m.ExtraArgs); err != nil {
		return nil, err
	}

	return q.Build(), nil
}

// FormatFromFile guesses the image format from the file extension.
// Unknown extensions return "" and leave probing to the hypervisor.
func FormatFromFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2":
		return "qcow2"
	case ".raw", ".img":
		return "raw"
	default:
		return ""
	}
}

// Quote renders argv as a single shell-pasteable line.
func Quote(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return "''"
	}
	if strings.IndexFunc(a, needsQuote) < 0 {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:,=+@%", r)
}

// escapeOpt doubles commas, QEMU's escape inside option values.
func escapeOpt(s string) string {
	return strings.ReplaceAll(s, ",", ",,")
}

func socketChardev(path string) string {
	return "unix:" + escapeOpt(path) + ",server=on,wait=off"
}
