package vm

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/monitor"
	"github.com/jbweber/qvm/internal/naming"
)

// Console attaches the terminal to the machine's serial console until the
// user disconnects.
func Console(ctx context.Context, env Env, name string) error {
	tty := monitor.IsTerminal(os.Stdin)
	return relayWithDeps(ctx, env, "console", name, naming.Layout.ConsoleSocket, tty, newProcessProber, execRunner{})
}

// Monitor attaches the terminal to the machine's human monitor until the
// user disconnects.
func Monitor(ctx context.Context, env Env, name string) error {
	tty := monitor.IsTerminal(os.Stdin)
	return relayWithDeps(ctx, env, "monitor", name, naming.Layout.MonitorSocket, tty, newProcessProber, execRunner{})
}

// relayWithDeps runs a socat relay to one of the machine's sockets with
// injected dependencies.
func relayWithDeps(ctx context.Context, env Env, op, name string, socket func(naming.Layout) string,
	tty bool, newProber proberFactory, runner commandRunner) error {
	_, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}
	if _, err := requireRunning(op, name, newProber, layout); err != nil {
		return err
	}

	path := socket(layout)
	if err := requireSocket(op, path); err != nil {
		return err
	}

	argv := monitor.RelayArgs(env.Defaults.Socat, path, tty)
	logrus.Debugf("Relaying %v", argv)
	if tty {
		env.printf("%s\n", monitor.EscapeHint)
	}

	wait, err := runner.Start(ctx, argv)
	if err != nil {
		return externalf(op, "failed to launch %s: %w", argv[0], err)
	}
	if err := wait(); err != nil {
		return externalf(op, "%s: %w", argv[0], err)
	}
	return nil
}
