package vm

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
	"github.com/jbweber/qvm/internal/status"
)

// List enumerates the machines under the machines directory and derives
// the state of each from its PID file. Directories without a descriptor are
// skipped; machines whose descriptor fails to load are reported as invalid.
func List(ctx context.Context, env Env) ([]status.Info, error) {
	return listWithDeps(ctx, env, newProcessProber)
}

// listWithDeps lists machines with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func listWithDeps(_ context.Context, env Env, newProber proberFactory) ([]status.Info, error) {
	const op = "list"
	dir := env.Defaults.MachinesDir

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Debugf("%s does not exist", dir)
		return []status.Info{}, nil
	}
	if err != nil {
		return nil, externalf(op, "failed to read %s: %w", dir, err)
	}

	machines := make([]status.Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !naming.ValidName(e.Name()) {
			continue
		}
		layout := naming.NewLayout(dir, e.Name())
		fi, err := os.Stat(layout.Descriptor())
		if err != nil {
			logrus.Debugf("Skipping %s: %v", layout.Dir, err)
			continue
		}

		info := status.Info{Name: e.Name(), Created: fi.ModTime()}

		m, err := descriptor.LoadFromFile(layout.Descriptor())
		if err != nil {
			logrus.Warnf("%v", err)
			info.State = status.StateInvalid
			info.Reason = err.Error()
			machines = append(machines, info)
			continue
		}
		if !m.Created.IsZero() {
			info.Created = m.Created
		}
		info.UUID = m.UUID
		info.MemMiB = m.MemMiB
		info.SMP = m.SMP
		if info.SMP == 0 {
			info.SMP = env.Defaults.SMP
		}
		info.MACs = m.MACs()
		for _, d := range m.Discs {
			info.Discs = append(info.Discs, d.File)
		}

		state, pid, err := status.Derive(newProber(layout.PIDFile()))
		if err != nil {
			logrus.Warnf("failed to probe %s: %v", e.Name(), err)
			state = status.StateStopped
		}
		info.State = state
		info.PID = pid

		machines = append(machines, info)
	}

	return machines, nil
}

// RunningNames returns the names of the running machines in machines.
func RunningNames(machines []status.Info) []string {
	var names []string
	for _, m := range machines {
		if status.IsRunning(m.State) {
			names = append(names, m.Name)
		}
	}
	return names
}
