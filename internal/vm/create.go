package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/cloudinit"
	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/disk"
	"github.com/jbweber/qvm/internal/naming"
)

// CreateOptions are the inputs of Create. Zero values fall back to the
// defaults record.
type CreateOptions struct {
	Name string
	ISO  string // installation image, required

	MemMiB    int
	SMP       int
	DiscSize  string   // e.g. "20G"
	Interface string   // disc interface
	Bridges   []string // one NIC per bridge
	SSHKeys   []string // enables cloud-init when non-empty

	DryRun bool
}

// Create allocates a new machine: its directory, an empty disc image and a
// descriptor with a fresh UUID and one random MAC per bridge.
func Create(ctx context.Context, env Env, opts CreateOptions) error {
	dm := disk.NewManager(env.Defaults.QemuImg, env.Out, opts.DryRun)
	return createWithDeps(ctx, env, opts, dm)
}

// createWithDeps creates a machine with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func createWithDeps(ctx context.Context, env Env, opts CreateOptions, dm diskManager) (createErr error) {
	const op = "create"
	d := env.Defaults

	if err := naming.CheckName(opts.Name); err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}
	if opts.ISO == "" {
		return validationf(op, "an installation ISO is required")
	}

	m, sizeBytes, err := newMachine(opts, d)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}

	iso, err := filepath.Abs(opts.ISO)
	if err != nil {
		return validationf(op, "invalid ISO path %q: %w", opts.ISO, err)
	}
	if info, err := os.Stat(iso); err != nil {
		return preconditionf(op, "ISO %s: %w", iso, err)
	} else if info.IsDir() {
		return preconditionf(op, "ISO %s is a directory", iso)
	}
	m.ISO = iso

	if label, err := cloudinit.ProbeISO(iso); err != nil {
		logrus.Warnf("%s does not look like an ISO 9660 image: %v", iso, err)
	} else {
		logrus.Infof("Installation image %s (volume %q)", iso, label)
	}

	layout := env.layout(opts.Name)
	logrus.Infof("Checking if %s already exists...", layout.Dir)
	if _, err := os.Stat(layout.Dir); err == nil {
		return preconditionf(op, "machine directory already exists: %s", layout.Dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return externalf(op, "failed to check machine directory: %w", err)
	}

	if err := disk.CheckSpace(existingParent(d.MachinesDir), sizeBytes); err != nil {
		logrus.Warnf("%v", err)
	}

	discPath := layout.File(m.Discs[0].File)
	if opts.DryRun {
		if err := dm.Create(ctx, discPath, d.DiscFormat, sizeBytes); err != nil {
			return externalf(op, "failed to create disc: %w", err)
		}
		logrus.Infof("Dry run: not writing %s", layout.Descriptor())
		return nil
	}

	logrus.Infof("Creating machine directory %s...", layout.Dir)
	if err := os.MkdirAll(layout.Dir, 0o755); err != nil {
		return externalf(op, "failed to create machine directory: %w", err)
	}
	defer func() {
		if createErr != nil {
			cleanupDir(layout.Dir)
		}
	}()

	logrus.Infof("Creating disc %s (%s)...", discPath, d.DiscSize)
	if err := dm.Create(ctx, discPath, d.DiscFormat, sizeBytes); err != nil {
		return externalf(op, "failed to create disc: %w", err)
	}

	logrus.Infof("Writing descriptor %s...", layout.Descriptor())
	if err := descriptor.SaveToFile(m, layout.Descriptor()); err != nil {
		return externalf(op, "%w", err)
	}

	env.printf("Created %s in %s\n", m.Name, layout.Dir)
	return nil
}

// newMachine builds the descriptor for opts and returns it with the size of
// its disc in bytes.
func newMachine(opts CreateOptions, d config.Defaults) (*descriptor.Machine, int64, error) {
	size := d.DiscSize
	if opts.DiscSize != "" {
		size = opts.DiscSize
	}
	sizeBytes, err := config.ParseSize(size)
	if err != nil {
		return nil, 0, fmt.Errorf("disc size: %w", err)
	}

	m := &descriptor.Machine{
		Name:   opts.Name,
		UUID:    uuid.NewString(),
		Created: time.Now().UTC().Truncate(time.Second),
		MemMiB:  firstPositive(opts.MemMiB, d.MemMiB),
		SMP:     firstPositive(opts.SMP, d.SMP),
	}

	iface := d.DiscInterface
	if opts.Interface != "" {
		iface = opts.Interface
	}
	m.Discs = []descriptor.Disc{{Interface: iface, File: naming.DiscFile(0, d.DiscFormat)}}

	bridges := d.Bridges
	if opts.Bridges != nil {
		bridges = opts.Bridges
	}
	for _, br := range bridges {
		mac, err := naming.RandomMAC()
		if err != nil {
			return nil, 0, err
		}
		m.NICs = append(m.NICs, descriptor.NIC{Model: d.NICModel, MAC: mac, Bridge: br})
	}

	if len(opts.SSHKeys) > 0 {
		m.CloudInit = &descriptor.CloudInit{SSHKeys: opts.SSHKeys}
	}

	if err := descriptor.Validate(m); err != nil {
		return nil, 0, fmt.Errorf("validation failed: %w", err)
	}
	return m, sizeBytes, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// existingParent returns dir or its closest existing ancestor.
func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// cleanupDir removes a partially created machine directory.
//
// This is best-effort: it logs errors but never returns one.
func cleanupDir(dir string) {
	logrus.Infof("Cleaning up %s after failure...", dir)
	if err := os.RemoveAll(dir); err != nil {
		logrus.Warnf("failed to remove %s: %v", dir, err)
	}
}
