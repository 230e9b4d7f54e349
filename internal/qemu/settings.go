package qemu

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/descriptor"
)

// Settings are the hypervisor options of a machine after the descriptor's
// overrides have been applied on top of the defaults.
type Settings struct {
	Binary   string
	Accel    string
	CPU      string
	Machine  string
	Keyboard string
	SMP      int
}

// Resolve merges the descriptor overrides with the defaults.
func Resolve(m *descriptor.Machine, d config.Defaults) Settings {
	s := Settings{
		Binary:   d.Qemu,
		Accel:    d.Accel,
		CPU:      d.CPU,
		Machine:  d.Machine,
		Keyboard: d.Keyboard,
		SMP:      d.SMP,
	}
	if m.Qemu != "" {
		s.Binary = m.Qemu
	}
	if m.Accel != "" {
		s.Accel = m.Accel
	}
	if m.CPU != "" {
		s.CPU = m.CPU
	}
	if m.Machine != "" {
		s.Machine = m.Machine
	}
	if m.Keyboard != "" {
		s.Keyboard = m.Keyboard
	}
	if m.SMP > 0 {
		s.SMP = m.SMP
	}
	return s
}

// Validate checks the resolved settings and the machine's devices against
// the whitelists.
func (s Settings) Validate(m *descriptor.Machine) error {
	var result *multierror.Error

	if s.Binary == "" {
		result = multierror.Append(result, fmt.Errorf("qemu binary is empty"))
	}
	if !ValidAccel(s.Accel) {
		result = multierror.Append(result, fmt.Errorf("unsupported accelerator %q", s.Accel))
	}
	if !ValidCPU(s.CPU) {
		result = multierror.Append(result, fmt.Errorf("unsupported cpu model %q", s.CPU))
	}
	if !ValidMachine(s.Machine) {
		result = multierror.Append(result, fmt.Errorf("unsupported machine type %q", s.Machine))
	}
	if s.Keyboard != "" && !ValidKeyboard(s.Keyboard) {
		result = multierror.Append(result, fmt.Errorf("unsupported keyboard layout %q", s.Keyboard))
	}
	if s.SMP <= 0 {
		result = multierror.Append(result, fmt.Errorf("smp must be > 0, got %d", s.SMP))
	}

	for i, d := range m.Discs {
		if !ValidDiscInterface(d.Interface) {
			result = multierror.Append(result, fmt.Errorf("discs[%d]: unsupported interface %q", i, d.Interface))
		}
	}
	for i, n := range m.NICs {
		if !ValidNICModel(n.Model) {
			result = multierror.Append(result, fmt.Errorf("nics[%d]: unsupported model %q", i, n.Model))
		}
	}

	return result.ErrorOrNil()
}
