// Package vm provides the machine operations behind the qvm commands.
//
// This package orchestrates the low-level components (descriptor, qemu,
// disk, process, monitor, cloudinit) into one function per command:
//   - Create: allocate a machine directory, disc image and descriptor
//   - Start: launch the hypervisor for a machine
//   - List: enumerate machines and derive their state
//   - Console, Monitor: relay the terminal to the serial or monitor socket
//   - Powerdown, Quit: send a QMP command to a running machine
//   - Kill: signal the hypervisor process
//   - Snapshot: create, apply, delete or list disc snapshots offline
//   - Clone: copy a stopped machine under a new name
//   - PrintDefaults, Export: render the defaults or a libvirt domain
//
// Every operation validates its arguments, loads the machine descriptor,
// checks its preconditions and only then touches the filesystem or runs an
// external program. Failures are returned as *Error so callers can tell
// validation problems from unmet preconditions and failing tools.
//
// Dry Run:
//
// Create, Start, Clone and Snapshot accept a dry-run flag. A dry run performs
// the same validation and prints the same command lines, but runs nothing and
// writes nothing.
//
// Testing:
//
// Each exported operation delegates to an unexported *WithDeps function that
// takes its collaborators as interfaces, so tests run without qemu, socat or
// a live process.
package vm
