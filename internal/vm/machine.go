package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
	"github.com/jbweber/qvm/internal/status"
)

// Env is what every operation shares: the defaults loaded at start-up and
// the writer user-facing output goes to.
type Env struct {
	Defaults config.Defaults
	Out      io.Writer
}

func (e Env) layout(name string) naming.Layout {
	return naming.NewLayout(e.Defaults.MachinesDir, name)
}

func (e Env) printf(format string, args ...any) {
	if e.Out != nil {
		_, _ = fmt.Fprintf(e.Out, format, args...)
	}
}

// loadMachine validates name and loads its descriptor. A missing descriptor
// is a precondition failure, a malformed one a validation failure.
func loadMachine(op string, env Env, name string) (*descriptor.Machine, naming.Layout, error) {
	if err := naming.CheckName(name); err != nil {
		return nil, naming.Layout{}, &Error{Kind: KindValidation, Op: op, Err: err}
	}

	layout := env.layout(name)
	logrus.Debugf("Loading descriptor %s", layout.Descriptor())
	m, err := descriptor.LoadFromFile(layout.Descriptor())
	if errors.Is(err, descriptor.ErrNotFound) {
		return nil, layout, preconditionf(op, "machine %q does not exist", name)
	}
	if err != nil {
		return nil, layout, &Error{Kind: KindValidation, Op: op, Err: err}
	}
	return m, layout, nil
}

// machineState probes the machine's PID file.
func machineState(op string, newProber proberFactory, layout naming.Layout) (status.State, int, error) {
	state, pid, err := status.Derive(newProber(layout.PIDFile()))
	if err != nil {
		return "", 0, externalf(op, "failed to probe hypervisor: %w", err)
	}
	logrus.Debugf("%s is %s (pid %d)", layout.Dir, state, pid)
	return state, pid, nil
}

// requireRunning fails unless the machine's hypervisor is alive.
func requireRunning(op, name string, newProber proberFactory, layout naming.Layout) (int, error) {
	state, pid, err := machineState(op, newProber, layout)
	if err != nil {
		return 0, err
	}
	if !status.IsRunning(state) {
		return 0, preconditionf(op, "machine %q is not running", name)
	}
	return pid, nil
}

// requireOffline fails while the machine's hypervisor is alive.
func requireOffline(op, name string, newProber proberFactory, layout naming.Layout) error {
	state, pid, err := machineState(op, newProber, layout)
	if err != nil {
		return err
	}
	if !status.AllowsOffline(state) {
		return preconditionf(op, "machine %q is running (pid %d)", name, pid)
	}
	return nil
}

// requireSocket fails unless path exists.
func requireSocket(op, path string) error {
	if _, err := os.Stat(path); err != nil {
		return preconditionf(op, "socket %s is not available: %w", path, err)
	}
	return nil
}
