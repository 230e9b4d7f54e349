package libvirt

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
	"github.com/jbweber/qvm/internal/qemu"
)

// diskBus maps a -drive if= value to a libvirt bus and its device prefix.
var diskBus = map[string]struct{ bus, prefix string }{
	"virtio": {"virtio", "vd"},
	"ide":    {"ide", "hd"},
	"scsi":   {"scsi", "sd"},
	"sd":     {"sd", "mmcblk"},
	"floppy": {"fdc", "fd"},
}

// GenerateDomainXML renders m as a libvirt domain definition that runs the
// same hypervisor configuration qvm would: same machine type, CPU model,
// discs, NICs and MAC addresses, plus any extra_args as a qemu:commandline
// passthrough.
func GenerateDomainXML(m *descriptor.Machine, s qemu.Settings, layout naming.Layout) (string, error) {
	if m == nil {
		return "", fmt.Errorf("machine cannot be nil")
	}

	domainType := "qemu"
	if s.Accel == "kvm" {
		domainType = "kvm"
	}

	domain := &libvirtxml.Domain{
		Type: domainType,
		Name: m.Name,
		UUID: m.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(m.MemMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(s.SMP),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    archFromBinary(s.Binary),
				Machine: s.Machine,
				Type:    "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{{Dev: "hd"}},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: domainCPU(s.CPU),
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "destroy",
		Devices:    &libvirtxml.DomainDeviceList{},
	}

	if m.BIOS != "" {
		domain.OS.Loader = &libvirtxml.DomainLoader{
			Path:     m.BIOS,
			Readonly: "yes",
			Type:     "rom",
		}
	}

	// Discs, in descriptor order
	next := make(map[string]int)
	for i, d := range m.Discs {
		bus, ok := diskBus[d.Interface]
		if !ok {
			return "", fmt.Errorf("discs[%d]: interface %q has no libvirt equivalent", i, d.Interface)
		}
		device := "disk"
		if bus.bus == "fdc" {
			device = "floppy"
		}
		disk := libvirtxml.DomainDisk{
			Device: device,
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: qemu.FormatFromFile(d.File),
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: layout.File(d.File)},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: devName(bus.prefix, next[bus.prefix]),
				Bus: bus.bus,
			},
		}
		next[bus.prefix]++
		domain.Devices.Disks = append(domain.Devices.Disks, disk)
	}

	// Optical media go on the chipset's native controller.
	cdromBus, cdromPrefix := "ide", "hd"
	if strings.Contains(s.Machine, "q35") {
		cdromBus, cdromPrefix = "sata", "sd"
	}
	addCDROM := func(path string) {
		domain.Devices.Disks = append(domain.Devices.Disks, libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: path},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: devName(cdromPrefix, next[cdromPrefix]),
				Bus: cdromBus,
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		})
		next[cdromPrefix]++
	}
	if m.ISO != "" {
		addCDROM(m.ISO)
		domain.OS.BootDevices = append(domain.OS.BootDevices, libvirtxml.DomainBootDevice{Dev: "cdrom"})
	}
	if m.CloudInit != nil {
		addCDROM(layout.SeedISO())
	}

	for _, nic := range m.NICs {
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: strings.ReplaceAll(nic.MAC, "-", ":"),
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{
					Bridge: nic.Bridge,
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: nic.Model,
			},
		})
	}

	// Serial console
	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	if s.Keyboard != "" {
		domain.Devices.Graphics = []libvirtxml.DomainGraphic{
			{
				VNC: &libvirtxml.DomainGraphicVNC{
					Keymap: s.Keyboard,
					Listen: "127.0.0.1",
				},
			},
		}
	}

	if m.ExtraArgs != "" {
		args, err := shellwords.Parse(m.ExtraArgs)
		if err != nil {
			return "", fmt.Errorf("failed to parse extra_args: %w", err)
		}
		cmdline := &libvirtxml.DomainQEMUCommandline{}
		for _, a := range args {
			cmdline.Args = append(cmdline.Args, libvirtxml.DomainQEMUCommandlineArg{Value: a})
		}
		domain.QEMUCommandline = cmdline
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}

// domainCPU maps a -cpu model to libvirt's CPU modes.
func domainCPU(model string) *libvirtxml.DomainCPU {
	switch model {
	case "host":
		return &libvirtxml.DomainCPU{Mode: "host-passthrough"}
	case "max":
		return &libvirtxml.DomainCPU{Mode: "maximum"}
	default:
		return &libvirtxml.DomainCPU{
			Mode: "custom",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
				Value:    model,
			},
		}
	}
}

// archFromBinary derives the guest architecture from the emulator name,
// e.g. qemu-system-aarch64 -> aarch64.
func archFromBinary(binary string) string {
	base := filepath.Base(binary)
	if arch, ok := strings.CutPrefix(base, "qemu-system-"); ok && arch != "" {
		return arch
	}
	return "x86_64"
}

// devName returns the i-th device name with the given prefix: vda, vdb, ...
func devName(prefix string, i int) string {
	if prefix == "mmcblk" {
		return fmt.Sprintf("%s%d", prefix, i)
	}
	return prefix + string(rune('a'+i%26))
}
