package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/qvm/internal/naming"
)

// EnvDefaults names the environment variable that overrides the defaults
// file location.
const EnvDefaults = "QVM_DEFAULTS"

// Defaults is the process-wide fallback record. It is loaded once at
// start-up and passed by value to every operation; nothing mutates it after
// Load returns.
type Defaults struct {
	MachinesDir   string   `yaml:"machines_dir"`
	Qemu          string   `yaml:"qemu"`
	QemuImg       string   `yaml:"qemu_img"`
	Socat         string   `yaml:"socat"`
	Accel         string   `yaml:"accel"`
	CPU           string   `yaml:"cpu"`
	Machine       string   `yaml:"machine"`
	Keyboard      string   `yaml:"keyboard"`
	MemMiB        int      `yaml:"mem"`
	SMP           int      `yaml:"smp"`
	DiscSize      string   `yaml:"disc_size"`      // e.g. "20G"
	DiscInterface string   `yaml:"disc_interface"` // -drive if=
	DiscFormat    string   `yaml:"disc_format"`    // qcow2 or raw
	NICModel      string   `yaml:"nic_model"`
	Bridges       []string `yaml:"bridges"` // one NIC per bridge on create
}

// Builtin returns the defaults used when no defaults file exists.
func Builtin() Defaults {
	return Defaults{
		MachinesDir:   "~/vm",
		Qemu:          "qemu-system-x86_64",
		QemuImg:       "qemu-img",
		Socat:         "socat",
		Accel:         "kvm",
		CPU:           "host",
		Machine:       "q35",
		Keyboard:      "en-us",
		MemMiB:        2048,
		SMP:           2,
		DiscSize:      "20G",
		DiscInterface: "virtio",
		DiscFormat:    "qcow2",
		NICModel:      "virtio-net-pci",
		Bridges:       []string{"br0"},
	}
}

// DefaultPath returns the defaults file location: $QVM_DEFAULTS when set,
// otherwise <user config dir>/qvm/defaults.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvDefaults); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".config", "qvm", "defaults.yaml")
	}
	return filepath.Join(dir, "qvm", "defaults.yaml")
}

// Load reads the defaults file at path. A missing file yields Builtin().
// Keys present in the file override the built-in values; absent keys keep
// them.
func Load(path string) (Defaults, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		d := Builtin()
		d.Normalize()
		return d, d.Validate()
	}
	if err != nil {
		return Defaults{}, fmt.Errorf("failed to read defaults file: %w", err)
	}
	return LoadFromYAML(data)
}

// LoadFromYAML parses defaults from YAML bytes on top of Builtin().
func LoadFromYAML(data []byte) (Defaults, error) {
	d := Builtin()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and keeps the built-ins.
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return Defaults{}, fmt.Errorf("failed to parse defaults YAML: %w", err)
	}

	d.Normalize()

	if err := d.Validate(); err != nil {
		return Defaults{}, fmt.Errorf("invalid defaults: %w", err)
	}
	return d, nil
}

// Normalize makes the machines directory absolute and trims user input.
func (d *Defaults) Normalize() {
	d.MachinesDir = absDir(strings.TrimSpace(d.MachinesDir))
	d.DiscFormat = strings.ToLower(strings.TrimSpace(d.DiscFormat))
	d.DiscSize = strings.TrimSpace(d.DiscSize)
}

// Validate checks the structure of the defaults. Hypervisor whitelists
// (accelerator, CPU model, ...) are checked where the values are resolved
// against a descriptor, see qemu.Settings.Validate.
func (d *Defaults) Validate() error {
	if d.MachinesDir == "" {
		return fmt.Errorf("machines_dir is required")
	}
	if d.Qemu == "" {
		return fmt.Errorf("qemu is required")
	}
	if d.QemuImg == "" {
		return fmt.Errorf("qemu_img is required")
	}
	if d.Socat == "" {
		return fmt.Errorf("socat is required")
	}
	if d.MemMiB <= 0 {
		return fmt.Errorf("mem must be > 0, got %d", d.MemMiB)
	}
	if d.SMP <= 0 {
		return fmt.Errorf("smp must be > 0, got %d", d.SMP)
	}
	if _, err := d.DiscSizeBytes(); err != nil {
		return fmt.Errorf("disc_size: %w", err)
	}
	if d.DiscFormat != "qcow2" && d.DiscFormat != "raw" {
		return fmt.Errorf("disc_format must be qcow2 or raw, got %q", d.DiscFormat)
	}
	for i, br := range d.Bridges {
		if !naming.ValidBridge(br) {
			return fmt.Errorf("bridges[%d]: invalid bridge name %q", i, br)
		}
	}
	return nil
}

// DiscSizeBytes parses DiscSize ("20G", "512M", "1073741824").
func (d *Defaults) DiscSizeBytes() (int64, error) {
	return ParseSize(d.DiscSize)
}

// ParseSize parses a human size with binary units. Bare numbers are bytes.
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be > 0, got %q", s)
	}
	return n, nil
}

// ParseMemMiB parses a memory amount. Bare numbers are MiB, as in the
// descriptor; suffixed values ("4G") are converted.
func ParseMemMiB(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("memory size is empty")
	}
	if strings.Trim(s, "0123456789") == "" {
		s += "M"
	}
	n, err := ParseSize(s)
	if err != nil {
		return 0, err
	}
	mib := n / units.MiB
	if mib <= 0 {
		return 0, fmt.Errorf("memory must be at least 1MiB, got %q", s)
	}
	return int(mib), nil
}

// Template renders the defaults as a commented YAML document suitable as a
// starting point for a defaults file.
func (d Defaults) Template() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal defaults to YAML: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("# qvm defaults\n")
	buf.WriteString("# Save as " + DefaultPath() + " and edit; absent keys keep these values.\n")
	buf.Write(data)
	return buf.String(), nil
}

// SetMachinesDir overrides the machines directory, resolving it the same way
// as the value read from the defaults file.
func (d *Defaults) SetMachinesDir(dir string) {
	d.MachinesDir = absDir(strings.TrimSpace(dir))
}

// absDir expands ~ and resolves a relative directory against the working
// directory. The hypervisor is given these paths and changes directory when
// it daemonizes.
func absDir(p string) string {
	if p == "" {
		return p
	}
	p = expandHome(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
