package vm

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jbweber/qvm/internal/monitor"
	"github.com/jbweber/qvm/internal/process"
)

// Powerdown asks the guest to shut down (ACPI power button).
func Powerdown(ctx context.Context, env Env, name string) error {
	return controlWithDeps(ctx, env, "powerdown", name, monitor.CommandPowerdown, newProcessProber, newMonitorControl)
}

// Quit stops the hypervisor immediately, without a guest shutdown.
func Quit(ctx context.Context, env Env, name string) error {
	return controlWithDeps(ctx, env, "quit", name, monitor.CommandQuit, newProcessProber, newMonitorControl)
}

// controlWithDeps sends one QMP command with injected dependencies and
// prints the reply.
func controlWithDeps(_ context.Context, env Env, op, name, command string, newProber proberFactory, newController controllerFactory) error {
	_, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}
	if _, err := requireRunning(op, name, newProber, layout); err != nil {
		return err
	}
	if err := requireSocket(op, layout.QMPSocket()); err != nil {
		return err
	}

	logrus.Infof("Sending %s to %s...", command, name)
	reply, err := newController(layout.QMPSocket()).Execute(command)
	if err != nil {
		return externalf(op, "%w", err)
	}
	env.printf("%s\n", reply)
	return nil
}

// Kill sends a signal (SIGTERM when sig is empty) to the machine's
// hypervisor.
func Kill(ctx context.Context, env Env, name, sig string) error {
	return killWithDeps(ctx, env, name, sig, newProcessProber)
}

// killWithDeps signals a machine with injected dependencies.
func killWithDeps(_ context.Context, env Env, name, sig string, newProber proberFactory) error {
	const op = "kill"

	signal, err := process.ParseSignal(sig)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}

	_, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}
	pid, err := requireRunning(op, name, newProber, layout)
	if err != nil {
		return err
	}

	logrus.Infof("Sending %s to %s (pid %d)", unix.SignalName(signal), name, pid)
	if err := newProber(layout.PIDFile()).Signal(signal); err != nil {
		return externalf(op, "%w", err)
	}
	return nil
}
