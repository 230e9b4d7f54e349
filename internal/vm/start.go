package vm

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/cloudinit"
	"github.com/jbweber/qvm/internal/qemu"
	"github.com/jbweber/qvm/internal/status"
)

var (
	// pidFileTimeout bounds how long start holds the lock waiting for the
	// hypervisor to write its PID file.
	pidFileTimeout  = 10 * time.Second
	pidPollInterval = 50 * time.Millisecond
)

// StartOptions are per-invocation choices for Start.
type StartOptions struct {
	Background bool   // detach with -daemonize
	Display    string // -display value, empty for the hypervisor default
	DryRun     bool
}

// Start launches the hypervisor for the named machine with the terminal
// attached, or detached when opts.Background is set.
func Start(ctx context.Context, env Env, name string, opts StartOptions) error {
	return startWithDeps(ctx, env, name, opts, newProcessProber, execRunner{})
}

// startWithDeps starts a machine with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func startWithDeps(ctx context.Context, env Env, name string, opts StartOptions, newProber proberFactory, runner commandRunner) error {
	const op = "start"

	m, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}

	settings := qemu.Resolve(m, env.Defaults)
	if err := settings.Validate(m); err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}

	unlock := func() {}
	defer func() { unlock() }()
	if !opts.DryRun {
		u, err := lockFile(layout.LockFile())
		if err != nil {
			return externalf(op, "%w", err)
		}
		unlock = u
	}

	state, pid, err := machineState(op, newProber, layout)
	if err != nil {
		return err
	}
	if status.IsRunning(state) {
		return preconditionf(op, "machine %q is already running (pid %d)", name, pid)
	}
	if state == status.StateStale && !opts.DryRun {
		logrus.Infof("Removing stale PID file %s", layout.PIDFile())
		if err := os.Remove(layout.PIDFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return externalf(op, "failed to remove stale PID file: %w", err)
		}
	}

	qopts := qemu.Options{
		Background: opts.Background,
		Display:    opts.Display,
		SeedISO:    m.CloudInit != nil,
	}
	argv, err := qemu.BuildCommand(m, settings, layout, qopts)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}

	if qopts.SeedISO && !opts.DryRun {
		logrus.Infof("Generating cloud-init seed %s...", layout.SeedISO())
		if err := cloudinit.WriteISO(m, layout.SeedISO()); err != nil {
			return externalf(op, "%w", err)
		}
	}

	env.printf("%s\n", qemu.Quote(argv))
	if opts.DryRun {
		return nil
	}

	logrus.Infof("Starting %s...", name)
	wait, err := runner.Start(ctx, argv)
	if err != nil {
		return externalf(op, "failed to launch %s: %w", argv[0], err)
	}
	done := make(chan error, 1)
	go func() { done <- wait() }()

	exited, exitErr := awaitPIDFile(ctx, layout.PIDFile(), done)
	unlock()
	unlock = func() {}

	if !exited {
		exitErr = <-done
	}
	if exitErr != nil {
		logrus.Warnf("%s exited: %v", argv[0], exitErr)
	}
	return nil
}

// awaitPIDFile polls for path until it exists, the process behind done
// exits, or pidFileTimeout passes. exited reports whether done fired.
func awaitPIDFile(ctx context.Context, path string, done <-chan error) (exited bool, err error) {
	ticker := time.NewTicker(pidPollInterval)
	defer ticker.Stop()
	timeout := time.After(pidFileTimeout)

	for {
		if _, err := os.Stat(path); err == nil {
			logrus.Debugf("%s written", path)
			return false, nil
		}
		select {
		case err := <-done:
			return true, err
		case <-ctx.Done():
			return false, nil
		case <-timeout:
			logrus.Warnf("No PID file at %s after %s", path, pidFileTimeout)
			return false, nil
		case <-ticker.C:
		}
	}
}
