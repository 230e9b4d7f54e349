package vm

import (
	"context"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/jbweber/qvm/internal/disk"
	"github.com/jbweber/qvm/internal/monitor"
	"github.com/jbweber/qvm/internal/process"
	"github.com/jbweber/qvm/internal/status"
)

// prober tracks the hypervisor recorded in one machine's PID file.
//
// In production, this is satisfied by *process.Process.
// In tests, this is satisfied by mock implementations.
type prober interface {
	status.Prober

	// Signal delivers sig to the live hypervisor
	Signal(sig unix.Signal) error
}

// proberFactory returns the prober for a PID file path.
type proberFactory func(pidFile string) prober

func newProcessProber(pidFile string) prober {
	return process.New(pidFile)
}

// diskManager defines the qemu-img operations needed by create and snapshot.
//
// In production, this is satisfied by *disk.Manager.
// In tests, this is satisfied by mock implementations.
type diskManager interface {
	// Create creates an empty image of sizeBytes at path
	Create(ctx context.Context, path, format string, sizeBytes int64) error

	// Snapshot runs one snapshot operation against the image at path
	Snapshot(ctx context.Context, op disk.SnapshotOp, tag, path string) ([]byte, error)
}

// controller sends QMP commands to a running machine.
//
// In production, this is satisfied by *monitor.Control.
// In tests, this is satisfied by mock implementations.
type controller interface {
	// Execute runs command and returns the raw reply
	Execute(command string) ([]byte, error)
}

// controllerFactory returns the controller for a QMP socket path.
type controllerFactory func(socket string) controller

func newMonitorControl(socket string) controller {
	return monitor.NewControl(socket)
}

// commandRunner launches interactive programs (the hypervisor, socat) with
// the invoking terminal attached.
//
// In production, this is satisfied by execRunner.
// In tests, this is satisfied by mock implementations.
type commandRunner interface {
	// Start launches argv and returns a function that waits for it to exit
	Start(ctx context.Context, argv []string) (wait func() error, err error)
}

// execRunner runs commands with os/exec and inherited stdio.
type execRunner struct{}

func (execRunner) Start(ctx context.Context, argv []string) (func() error, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}
