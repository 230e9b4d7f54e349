// Package disk wraps qemu-img: disc image creation and internal snapshots.
package disk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jbweber/qvm/internal/qemu"
)

// NOTE: Images are created with qemu-img and placed next to the descriptor.
// Snapshots are qcow2 internal snapshots, taken per disc.

// SnapshotOp selects the qemu-img snapshot sub-operation.
type SnapshotOp string

const (
	SnapshotCreate SnapshotOp = "create"
	SnapshotApply  SnapshotOp = "apply"
	SnapshotDelete SnapshotOp = "delete"
	SnapshotList   SnapshotOp = "list"
)

var snapshotFlags = map[SnapshotOp]string{
	SnapshotCreate: "-c",
	SnapshotApply:  "-a",
	SnapshotDelete: "-d",
	SnapshotList:   "-l",
}

// ParseSnapshotOp maps a user-supplied operation name to a SnapshotOp.
func ParseSnapshotOp(s string) (SnapshotOp, error) {
	op := SnapshotOp(s)
	if _, ok := snapshotFlags[op]; !ok {
		return "", fmt.Errorf("unknown snapshot operation %q (want create, apply, delete or list)", s)
	}
	return op, nil
}

// NeedsTag reports whether op takes a snapshot name.
func (op SnapshotOp) NeedsTag() bool {
	return op != SnapshotList
}

// Runner runs an external command and returns its combined output.
//
// In production, this is satisfied by ExecRunner.
// In tests, this is satisfied by a recording fake.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// CombinedOutput runs name with args and returns stdout and stderr together.
func (ExecRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Manager runs qemu-img. Every command line is written to Out before it is
// run; with DryRun set nothing is run at all.
type Manager struct {
	QemuImg string
	Runner  Runner
	Out     io.Writer
	DryRun  bool
}

// NewManager returns a Manager running the given qemu-img binary.
func NewManager(qemuImg string, out io.Writer, dryRun bool) *Manager {
	return &Manager{
		QemuImg: qemuImg,
		Runner:  ExecRunner{},
		Out:     out,
		DryRun:  dryRun,
	}
}

// CreateArgs returns the qemu-img command line creating an empty image.
func (m *Manager) CreateArgs(path, format string, sizeBytes int64) []string {
	return []string{m.QemuImg, "create", "-f", format, path, strconv.FormatInt(sizeBytes, 10)}
}

// Create creates an empty disc image of the given format and size.
func (m *Manager) Create(ctx context.Context, path, format string, sizeBytes int64) error {
	logrus.Infof("Creating %s disc %s (%s)", format, path, units.BytesSize(float64(sizeBytes)))
	if _, err := m.run(ctx, m.CreateArgs(path, format, sizeBytes)); err != nil {
		return fmt.Errorf("failed to create disc %s: %w", path, err)
	}
	return nil
}

// SnapshotArgs returns the qemu-img snapshot command line for one disc.
func (m *Manager) SnapshotArgs(op SnapshotOp, tag, path string) []string {
	argv := []string{m.QemuImg, "snapshot", snapshotFlags[op]}
	if op.NeedsTag() {
		argv = append(argv, tag)
	}
	return append(argv, path)
}

// Snapshot runs one snapshot operation against one disc. The output of
// qemu-img is returned so that list results can be shown.
func (m *Manager) Snapshot(ctx context.Context, op SnapshotOp, tag, path string) ([]byte, error) {
	logrus.Debugf("Snapshot %s %q on %s", op, tag, path)
	out, err := m.run(ctx, m.SnapshotArgs(op, tag, path))
	if err != nil {
		return nil, fmt.Errorf("failed to %s snapshot on %s: %w", op, path, err)
	}
	return out, nil
}

func (m *Manager) run(ctx context.Context, argv []string) ([]byte, error) {
	if m.Out != nil {
		fmt.Fprintln(m.Out, qemu.Quote(argv))
	}
	if m.DryRun {
		return nil, nil
	}

	output, err := m.Runner.CombinedOutput(ctx, argv[0], argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%w\nOutput: %s", err, string(bytes.TrimSpace(output)))
	}
	return output, nil
}

// CheckSpace verifies that the filesystem holding dir has at least need
// bytes available. Images are sparse, so callers treat a failure as advisory.
func CheckSpace(dir string, need int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("failed to get filesystem stats for %s: %w", dir, err)
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	if need > available {
		return fmt.Errorf("insufficient disk space: need %s, have %s available",
			units.BytesSize(float64(need)), units.BytesSize(float64(available)))
	}
	return nil
}
