package vm

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/disk"
	"github.com/jbweber/qvm/internal/naming"
)

// SnapshotOptions select the snapshot action.
type SnapshotOptions struct {
	Op     string // create, apply, delete or list
	Tag    string // required except for list
	DryRun bool
}

// Snapshot runs one qemu-img snapshot action against every disc of a
// stopped machine.
func Snapshot(ctx context.Context, env Env, name string, opts SnapshotOptions) error {
	dm := disk.NewManager(env.Defaults.QemuImg, env.Out, opts.DryRun)
	return snapshotWithDeps(ctx, env, name, opts, newProcessProber, dm)
}

// snapshotWithDeps runs a snapshot action with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func snapshotWithDeps(ctx context.Context, env Env, name string, opts SnapshotOptions, newProber proberFactory, dm diskManager) error {
	const op = "snapshot"

	action, err := disk.ParseSnapshotOp(opts.Op)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}
	if action.NeedsTag() && !naming.ValidSnapshot(opts.Tag) {
		return validationf(op, "invalid snapshot name %q", opts.Tag)
	}

	m, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}
	if err := requireOffline(op, name, newProber, layout); err != nil {
		return err
	}
	if len(m.Discs) == 0 {
		return preconditionf(op, "machine %q has no discs", name)
	}

	paths := make([]string, 0, len(m.Discs))
	for _, d := range m.Discs {
		path := layout.File(d.File)
		f, err := os.Open(path)
		if err != nil {
			return preconditionf(op, "disc %s is not readable: %w", d.File, err)
		}
		_ = f.Close()
		paths = append(paths, path)
	}

	for _, path := range paths {
		logrus.Infof("Snapshot %s %q on %s", action, opts.Tag, path)
		out, err := dm.Snapshot(ctx, action, opts.Tag, path)
		if err != nil {
			return externalf(op, "%s: %w", path, err)
		}
		if len(out) > 0 {
			env.printf("%s", out)
		}
	}
	return nil
}
