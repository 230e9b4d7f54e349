// Package process tracks a hypervisor process through the PID file it
// writes, and signals it.
package process

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Process is a hypervisor identified by its PID file. The PID recorded in
// the file is only trusted while the process it names is alive, is not a
// zombie, and mentions the PID file on its command line.
type Process struct {
	PidFilePath string
}

// New returns the process recorded in pidFilePath.
func New(pidFilePath string) *Process {
	return &Process{PidFilePath: pidFilePath}
}

// ReadPidFile returns the PID recorded in the PID file.
func (p *Process) ReadPidFile() (int, error) {
	data, err := os.ReadFile(p.PidFilePath)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.ParseInt(pidStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}
	return int(pid), nil
}

// WritePidFile records pid in the PID file.
func (p *Process) WritePidFile(pid int) error {
	return os.WriteFile(p.PidFilePath, []byte(strconv.Itoa(pid)+"\n"), 0600)
}

func (p *Process) findProcess() (*process.Process, error) {
	pid, err := p.ReadPidFile()
	if err != nil {
		return nil, err
	}
	if pid <= 0 || pid > math.MaxInt32 {
		return nil, fmt.Errorf("invalid pid: %d", pid)
	}

	proc, err := process.NewProcess(int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	status, err := proc.Status()
	if err != nil {
		// The process exited between the lookup and now.
		return nil, os.ErrNotExist
	}
	for _, s := range status {
		if s == process.Zombie {
			return nil, os.ErrNotExist
		}
	}

	// A recycled PID belongs to some other program.
	args, err := proc.CmdlineSlice()
	if err != nil {
		return nil, os.ErrNotExist
	}
	if !mentions(args, p.PidFilePath) {
		return nil, os.ErrNotExist
	}

	return proc, nil
}

func mentions(args []string, path string) bool {
	for _, a := range args {
		if a == path || strings.Contains(a, path) {
			return true
		}
	}
	return false
}

// Exists reports whether the recorded process is alive. A missing or stale
// PID file is not an error.
func (p *Process) Exists() (bool, error) {
	_, err := p.findProcess()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stale reports whether a PID file exists but names no live hypervisor.
func (p *Process) Stale() bool {
	if _, err := os.Stat(p.PidFilePath); err != nil {
		return false
	}
	exists, err := p.Exists()
	return err == nil && !exists
}

// Pid returns the PID of the live process.
func (p *Process) Pid() (int, error) {
	proc, err := p.findProcess()
	if err != nil {
		return 0, fmt.Errorf("cannot find process: %w", err)
	}
	return int(proc.Pid), nil
}

// Signal delivers sig to the live process.
func (p *Process) Signal(sig unix.Signal) error {
	proc, err := p.findProcess()
	if err != nil {
		return fmt.Errorf("cannot find process: %w", err)
	}
	if err := proc.SendSignal(sig); err != nil {
		return fmt.Errorf("failed to send %s to pid %d: %w", unix.SignalName(sig), proc.Pid, err)
	}
	return nil
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	return p.Signal(unix.SIGTERM)
}

// ParseSignal accepts a signal name with or without the SIG prefix, in any
// case ("TERM", "sigkill", "HUP"), or a signal number ("9").
func ParseSignal(s string) (unix.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return unix.SIGTERM, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		sig := unix.Signal(n)
		if n <= 0 || unix.SignalName(sig) == "" {
			return 0, fmt.Errorf("unknown signal %q", s)
		}
		return sig, nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}
