package vm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/qemu"
)

// writePIDFile returns an onStart hook that plays the hypervisor writing
// its PID file.
func writePIDFile(t *testing.T, path string) func([]string) {
	return func([]string) {
		if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
			t.Errorf("WriteFile: %v", err)
		}
	}
}

// TestStartWithDeps_Success tests the happy path
func TestStartWithDeps_Success(t *testing.T) {
	env, out := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))
	runner := &mockRunner{onStart: writePIDFile(t, layout.PIDFile())}

	err := startWithDeps(context.Background(), env, "web", StartOptions{Background: true}, stoppedProber().factory(), runner)
	if err != nil {
		t.Fatalf("startWithDeps() error = %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(runner.calls))
	}
	argv := runner.calls[0]
	if argv[0] != env.Defaults.Qemu {
		t.Errorf("argv[0] = %q", argv[0])
	}
	line := strings.Join(argv, " ")
	for _, want := range []string{"-daemonize", "-pidfile " + layout.PIDFile(), "mac=52:54:00:ab:cd:ef"} {
		if !strings.Contains(line, want) {
			t.Errorf("command line missing %q: %s", want, line)
		}
	}
	if got := strings.TrimSpace(out.String()); got != qemu.Quote(argv) {
		t.Errorf("printed %q, want %q", got, qemu.Quote(argv))
	}
}

func TestStartWithDeps_RefusesRunning(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))
	runner := &mockRunner{}

	for _, dryRun := range []bool{false, true} {
		err := startWithDeps(context.Background(), env, "web", StartOptions{DryRun: dryRun}, runningProber().factory(), runner)
		if !IsPrecondition(err) {
			t.Fatalf("dryRun=%v: error = %v, want precondition", dryRun, err)
		}
		if !strings.Contains(err.Error(), "already running") {
			t.Errorf("error = %v", err)
		}
	}
	if len(runner.calls) != 0 {
		t.Errorf("hypervisor launched for a running machine")
	}
}

func TestStartWithDeps_DryRunMatchesExecution(t *testing.T) {
	env, out := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))

	dry := &mockRunner{}
	if err := startWithDeps(context.Background(), env, "web", StartOptions{DryRun: true}, stoppedProber().factory(), dry); err != nil {
		t.Fatalf("dry run error = %v", err)
	}
	if len(dry.calls) != 0 {
		t.Fatalf("dry run launched %v", dry.calls)
	}
	if _, err := os.Stat(layout.LockFile()); !errors.Is(err, os.ErrNotExist) {
		t.Error("dry run created the lock file")
	}
	dryOut := out.String()

	out.Reset()
	run := &mockRunner{onStart: writePIDFile(t, layout.PIDFile())}
	if err := startWithDeps(context.Background(), env, "web", StartOptions{}, stoppedProber().factory(), run); err != nil {
		t.Fatalf("start error = %v", err)
	}
	if out.String() != dryOut {
		t.Errorf("dry run printed %q, start printed %q", dryOut, out.String())
	}
}

func TestStartWithDeps_InvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *descriptor.Machine)
	}{
		{"bad accel", func(m *descriptor.Machine) { m.Accel = "turbo" }},
		{"bad cpu", func(m *descriptor.Machine) { m.CPU = "pentium5" }},
		{"bad machine", func(m *descriptor.Machine) { m.Machine = "mainframe" }},
		{"bad keyboard", func(m *descriptor.Machine) { m.Keyboard = "klingon" }},
		{"bad disc interface", func(m *descriptor.Machine) { m.Discs[0].Interface = "nvme0" }},
		{"bad nic model", func(m *descriptor.Machine) { m.NICs[0].Model = "ne3000" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _ := testEnv(t)
			m := testMachine("web")
			tt.mutate(m)
			writeMachine(t, env, m)
			runner := &mockRunner{}

			err := startWithDeps(context.Background(), env, "web", StartOptions{}, stoppedProber().factory(), runner)
			if !IsValidation(err) {
				t.Fatalf("error = %v, want validation", err)
			}
			if len(runner.calls) != 0 {
				t.Error("hypervisor launched with invalid settings")
			}
		})
	}
}

func TestStartWithDeps_MissingMachine(t *testing.T) {
	env, _ := testEnv(t)

	err := startWithDeps(context.Background(), env, "ghost", StartOptions{}, stoppedProber().factory(), &mockRunner{})
	if !IsPrecondition(err) {
		t.Fatalf("error = %v, want precondition", err)
	}

	err = startWithDeps(context.Background(), env, "../etc", StartOptions{}, stoppedProber().factory(), &mockRunner{})
	if !IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestStartWithDeps_NameMismatch(t *testing.T) {
	env, _ := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))
	if err := os.Rename(layout.Dir, env.layout("db").Dir); err != nil {
		t.Fatal(err)
	}

	err := startWithDeps(context.Background(), env, "db", StartOptions{}, stoppedProber().factory(), &mockRunner{})
	if !IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestStartWithDeps_RemovesStalePIDFile(t *testing.T) {
	env, _ := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))
	if err := os.WriteFile(layout.PIDFile(), []byte("99999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var sawPIDFile bool
	runner := &mockRunner{onStart: func([]string) {
		_, err := os.Stat(layout.PIDFile())
		sawPIDFile = err == nil
		writePIDFile(t, layout.PIDFile())(nil)
	}}
	p := &mockProber{stale: true}

	if err := startWithDeps(context.Background(), env, "web", StartOptions{}, p.factory(), runner); err != nil {
		t.Fatalf("startWithDeps() error = %v", err)
	}
	if sawPIDFile {
		t.Error("stale PID file was still present at launch")
	}
}

func TestStartWithDeps_CloudInitSeed(t *testing.T) {
	env, _ := testEnv(t)
	m := testMachine("web")
	m.CloudInit = &descriptor.CloudInit{SSHKeys: []string{
		"ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com",
	}}
	layout := writeMachine(t, env, m)
	runner := &mockRunner{onStart: writePIDFile(t, layout.PIDFile())}

	if err := startWithDeps(context.Background(), env, "web", StartOptions{}, stoppedProber().factory(), runner); err != nil {
		t.Fatalf("startWithDeps() error = %v", err)
	}
	if _, err := os.Stat(layout.SeedISO()); err != nil {
		t.Errorf("seed ISO not written: %v", err)
	}
	if !strings.Contains(strings.Join(runner.calls[0], " "), layout.SeedISO()) {
		t.Errorf("seed ISO not attached: %v", runner.calls[0])
	}
}

func TestStartWithDeps_LaunchFailure(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))
	runner := &mockRunner{startErr: errors.New("exec: not found")}

	err := startWithDeps(context.Background(), env, "web", StartOptions{}, stoppedProber().factory(), runner)
	if !IsExternal(err) {
		t.Fatalf("error = %v, want external", err)
	}
}

func TestStartWithDeps_HypervisorExitIsNotAnError(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))
	runner := &mockRunner{exitErr: errors.New("exit status 1")}

	if err := startWithDeps(context.Background(), env, "web", StartOptions{}, stoppedProber().factory(), runner); err != nil {
		t.Fatalf("startWithDeps() error = %v", err)
	}
}

func TestAwaitPIDFile_Timeout(t *testing.T) {
	oldTimeout, oldInterval := pidFileTimeout, pidPollInterval
	pidFileTimeout, pidPollInterval = 20*time.Millisecond, 5*time.Millisecond
	defer func() { pidFileTimeout, pidPollInterval = oldTimeout, oldInterval }()

	done := make(chan error)
	exited, err := awaitPIDFile(context.Background(), t.TempDir()+"/qemu.pid", done)
	if exited || err != nil {
		t.Errorf("awaitPIDFile() = %v, %v", exited, err)
	}
}
