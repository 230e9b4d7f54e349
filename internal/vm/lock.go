package vm

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive flock on path, creating it if needed, and
// blocks until the lock is granted. The returned function releases it.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock %s: %w", path, err)
	}

	logrus.Debugf("Acquiring %s", path)
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return func() {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			logrus.Warnf("failed to unlock %s: %v", path, err)
		}
		_ = f.Close()
		logrus.Debugf("Released %s", path)
	}, nil
}
