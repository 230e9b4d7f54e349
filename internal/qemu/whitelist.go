package qemu

import (
	"regexp"
)

// Values accepted on the hypervisor command line. Anything else is refused
// before the hypervisor is started.
var (
	accelerators = set("kvm", "tcg", "hvf", "whpx", "nvmm", "xen")

	cpuModels = set(
		"host", "max", "base",
		"qemu64", "qemu32", "kvm64", "kvm32",
		"Nehalem", "Westmere", "SandyBridge", "IvyBridge", "Haswell", "Broadwell",
		"Skylake-Client", "Skylake-Server", "Cascadelake-Server", "Icelake-Server",
		"EPYC", "EPYC-Rome", "EPYC-Milan", "EPYC-Genoa",
		"cortex-a53", "cortex-a57", "cortex-a72", "neoverse-n1",
	)

	machineTypes = set("pc", "q35", "virt", "microvm", "isapc")

	// Versioned machine types, e.g. pc-q35-8.2 or virt-9.0.
	versionedMachineRE = regexp.MustCompile(`^(pc-(i440fx|q35)|virt)-[0-9]+\.[0-9]+$`)

	keyboardLayouts = set(
		"ar", "bepo", "cz", "da", "de", "de-ch", "en-gb", "en-us", "es", "et",
		"fi", "fo", "fr", "fr-be", "fr-ca", "fr-ch", "hr", "hu", "is", "it",
		"ja", "lt", "lv", "mk", "nl", "no", "pl", "pt", "pt-br", "ru", "sl",
		"sv", "th", "tr",
	)

	discInterfaces = set("ide", "scsi", "sd", "mtd", "floppy", "pflash", "virtio", "none")

	nicModels = set(
		"e1000", "e1000e", "igb", "rtl8139", "i82559er", "ne2k_pci", "pcnet",
		"vmxnet3", "virtio-net-pci", "virtio-net-device",
	)
)

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// ValidAccel reports whether a is a known accelerator.
func ValidAccel(a string) bool { return accelerators[a] }

// ValidCPU reports whether c is a known CPU model.
func ValidCPU(c string) bool { return cpuModels[c] }

// ValidMachine reports whether t is a known machine type.
func ValidMachine(t string) bool {
	return machineTypes[t] || versionedMachineRE.MatchString(t)
}

// ValidKeyboard reports whether k is a keymap shipped with QEMU.
func ValidKeyboard(k string) bool { return keyboardLayouts[k] }

// ValidDiscInterface reports whether i is a -drive if= value.
func ValidDiscInterface(i string) bool { return discInterfaces[i] }

// ValidNICModel reports whether n is a known NIC device model.
func ValidNICModel(n string) bool { return nicModels[n] }
