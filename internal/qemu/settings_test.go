package qemu

import (
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/descriptor"
)

func TestResolve_DescriptorOverrides(t *testing.T) {
	d := config.Builtin()
	m := &descriptor.Machine{
		Name:     "a",
		MemMiB:   512,
		SMP:      4,
		Qemu:     "qemu-system-aarch64",
		Accel:    "tcg",
		CPU:      "max",
		Machine:  "virt",
		Keyboard: "de",
	}

	got := Resolve(m, d)
	want := Settings{Binary: "qemu-system-aarch64", Accel: "tcg", CPU: "max", Machine: "virt", Keyboard: "de", SMP: 4}
	if got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestResolve_FallsBackToDefaults(t *testing.T) {
	d := config.Builtin()
	got := Resolve(&descriptor.Machine{Name: "a", MemMiB: 512}, d)

	if got.Binary != d.Qemu || got.Accel != d.Accel || got.CPU != d.CPU ||
		got.Machine != d.Machine || got.Keyboard != d.Keyboard || got.SMP != d.SMP {
		t.Errorf("Resolve() = %+v, want defaults %+v", got, d)
	}
}

func TestSettingsValidate(t *testing.T) {
	base := func() Settings {
		return Settings{Binary: "qemu-system-x86_64", Accel: "kvm", CPU: "host", Machine: "q35", Keyboard: "en-us", SMP: 1}
	}

	tests := []struct {
		name        string
		mutate      func(*Settings, *descriptor.Machine)
		expectError string
	}{
		{name: "valid", mutate: func(*Settings, *descriptor.Machine) {}},
		{name: "versioned machine", mutate: func(s *Settings, _ *descriptor.Machine) { s.Machine = "pc-q35-8.2" }},
		{name: "empty keyboard", mutate: func(s *Settings, _ *descriptor.Machine) { s.Keyboard = "" }},
		{name: "bad accel", mutate: func(s *Settings, _ *descriptor.Machine) { s.Accel = "warp" }, expectError: "unsupported accelerator"},
		{name: "bad cpu", mutate: func(s *Settings, _ *descriptor.Machine) { s.CPU = "z80" }, expectError: "unsupported cpu model"},
		{name: "bad machine", mutate: func(s *Settings, _ *descriptor.Machine) { s.Machine = "pc-q35-latest" }, expectError: "unsupported machine type"},
		{name: "bad keyboard", mutate: func(s *Settings, _ *descriptor.Machine) { s.Keyboard = "klingon" }, expectError: "unsupported keyboard layout"},
		{name: "bad smp", mutate: func(s *Settings, _ *descriptor.Machine) { s.SMP = 0 }, expectError: "smp must be > 0"},
		{
			name: "bad disc interface",
			mutate: func(_ *Settings, m *descriptor.Machine) {
				m.Discs = []descriptor.Disc{{Interface: "sata", File: "d.qcow2"}}
			},
			expectError: "discs[0]: unsupported interface",
		},
		{
			name: "bad nic model",
			mutate: func(_ *Settings, m *descriptor.Machine) {
				m.NICs = []descriptor.NIC{{Model: "tulip", MAC: "52:54:00:00:00:01", Bridge: "br0"}}
			},
			expectError: "nics[0]: unsupported model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			m := &descriptor.Machine{Name: "a", MemMiB: 512}
			tt.mutate(&s, m)

			err := s.Validate(m)
			if tt.expectError == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.expectError)
			}
			if !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.expectError)
			}
		})
	}
}

func TestSettingsValidate_ReportsEverything(t *testing.T) {
	s := Settings{Binary: "", Accel: "x", CPU: "y", Machine: "z", SMP: 1}
	err := s.Validate(&descriptor.Machine{Name: "a", MemMiB: 1})

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(merr.Errors), err)
	}
}
