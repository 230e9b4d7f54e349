package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
)

// Clone copies a stopped machine to a new name. The copy gets a new UUID
// and a fresh MAC for every NIC. Runtime files are not copied.
func Clone(ctx context.Context, env Env, source, target string, dryRun bool) error {
	return cloneWithDeps(ctx, env, source, target, dryRun, newProcessProber)
}

// cloneWithDeps clones a machine with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func cloneWithDeps(_ context.Context, env Env, source, target string, dryRun bool, newProber proberFactory) (cloneErr error) {
	const op = "clone"

	if err := naming.CheckName(target); err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf("target: %w", err)}
	}

	src, srcLayout, err := loadMachine(op, env, source)
	if err != nil {
		return err
	}

	dstLayout := env.layout(target)
	if _, err := os.Stat(dstLayout.Dir); err == nil {
		return preconditionf(op, "machine directory already exists: %s", dstLayout.Dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return externalf(op, "failed to check machine directory: %w", err)
	}

	if err := requireOffline(op, source, newProber, srcLayout); err != nil {
		return err
	}

	dst, err := cloneMachine(src, target)
	if err != nil {
		return externalf(op, "%w", err)
	}

	if dryRun {
		data, err := descriptor.Marshal(dst)
		if err != nil {
			return externalf(op, "%w", err)
		}
		env.printf("%s", data)
		return nil
	}

	logrus.Infof("Copying %s to %s...", srcLayout.Dir, dstLayout.Dir)
	if err := os.MkdirAll(dstLayout.Dir, 0o755); err != nil {
		return externalf(op, "failed to create machine directory: %w", err)
	}
	defer func() {
		if cloneErr != nil {
			cleanupDir(dstLayout.Dir)
		}
	}()

	if err := copyTree(srcLayout.Dir, dstLayout.Dir); err != nil {
		return externalf(op, "%w", err)
	}
	if err := descriptor.SaveToFile(dst, dstLayout.Descriptor()); err != nil {
		return externalf(op, "%w", err)
	}

	env.printf("Cloned %s to %s\n", source, target)
	return nil
}

// cloneMachine returns a copy of src named target, with a new UUID and NIC
// MACs that differ from every MAC of src and from each other.
func cloneMachine(src *descriptor.Machine, target string) (*descriptor.Machine, error) {
	dst := src.Clone()
	dst.Name = target
	dst.UUID = uuid.NewString()
	dst.Created = time.Now().UTC().Truncate(time.Second)

	used := make(map[string]bool)
	for _, mac := range src.MACs() {
		used[normalizeMAC(mac)] = true
	}
	for i := range dst.NICs {
		for {
			mac, err := naming.RandomMAC()
			if err != nil {
				return nil, err
			}
			if !used[mac] {
				used[mac] = true
				dst.NICs[i].MAC = mac
				break
			}
		}
	}
	return dst, nil
}

// normalizeMAC lower-cases mac and uses colons as separators.
func normalizeMAC(mac string) string {
	b := []byte(mac)
	for i, c := range b {
		switch {
		case c == '-':
			b[i] = ':'
		case c >= 'A' && c <= 'F':
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// copyTree copies the regular files of a machine directory, skipping the
// descriptor and runtime files. Subdirectories are copied recursively.
func copyTree(src, dst string) error {
	skip := map[string]bool{naming.DescriptorFile: true}
	for _, f := range naming.RuntimeFiles() {
		skip[f] = true
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if filepath.Dir(rel) == "." && skip[rel] {
			logrus.Debugf("Skipping %s", path)
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			logrus.Debugf("Skipping non-regular file %s", path)
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	logrus.Debugf("Copying %s", src)
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
