package vm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/jbweber/qvm/internal/monitor"
	"github.com/jbweber/qvm/internal/naming"
)

// touchSocket creates a placeholder at a socket path.
func touchSocket(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestControlWithDeps_Success(t *testing.T) {
	tests := []struct {
		op      string
		command string
	}{
		{"powerdown", monitor.CommandPowerdown},
		{"quit", monitor.CommandQuit},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			env, out := testEnv(t)
			layout := writeMachine(t, env, testMachine("web"))
			touchSocket(t, layout.QMPSocket())
			ctl := &mockController{reply: []byte(`{"return":{}}`)}

			err := controlWithDeps(context.Background(), env, tt.op, "web", tt.command, runningProber().factory(), ctl.factory())
			if err != nil {
				t.Fatalf("controlWithDeps() error = %v", err)
			}
			if len(ctl.commands) != 1 || ctl.commands[0] != tt.command {
				t.Errorf("commands = %v", ctl.commands)
			}
			if ctl.sockets[0] != layout.QMPSocket() {
				t.Errorf("socket = %q", ctl.sockets[0])
			}
			if strings.TrimSpace(out.String()) != `{"return":{}}` {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestControlWithDeps_Preconditions(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		withSocket bool
	}{
		{"not running", false, true},
		{"no socket", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _ := testEnv(t)
			layout := writeMachine(t, env, testMachine("web"))
			if tt.withSocket {
				touchSocket(t, layout.QMPSocket())
			}
			ctl := &mockController{}
			p := &mockProber{running: tt.running, pid: 1}

			err := controlWithDeps(context.Background(), env, "powerdown", "web", monitor.CommandPowerdown, p.factory(), ctl.factory())
			if !IsPrecondition(err) {
				t.Fatalf("error = %v, want precondition", err)
			}
			if len(ctl.commands) != 0 {
				t.Errorf("command sent: %v", ctl.commands)
			}
		})
	}
}

func TestControlWithDeps_ExecuteFailure(t *testing.T) {
	env, _ := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))
	touchSocket(t, layout.QMPSocket())
	ctl := &mockController{executeErr: errors.New("connection refused")}

	err := controlWithDeps(context.Background(), env, "quit", "web", monitor.CommandQuit, runningProber().factory(), ctl.factory())
	if !IsExternal(err) {
		t.Fatalf("error = %v, want external", err)
	}
}

func TestKillWithDeps(t *testing.T) {
	tests := []struct {
		sig  string
		want unix.Signal
	}{
		{"", unix.SIGTERM},
		{"KILL", unix.SIGKILL},
		{"sighup", unix.SIGHUP},
		{"2", unix.SIGINT},
	}

	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			env, _ := testEnv(t)
			layout := writeMachine(t, env, testMachine("web"))
			p := runningProber()

			if err := killWithDeps(context.Background(), env, "web", tt.sig, p.factory()); err != nil {
				t.Fatalf("killWithDeps() error = %v", err)
			}
			if len(p.signals) != 1 || p.signals[0] != tt.want {
				t.Errorf("signals = %v, want %v", p.signals, tt.want)
			}
			for _, path := range p.paths {
				if path != layout.PIDFile() {
					t.Errorf("probed %q", path)
				}
			}
		})
	}
}

func TestKillWithDeps_Failures(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))

	if err := killWithDeps(context.Background(), env, "web", "NOPE", runningProber().factory()); !IsValidation(err) {
		t.Errorf("bad signal: error = %v, want validation", err)
	}

	p := stoppedProber()
	if err := killWithDeps(context.Background(), env, "web", "", p.factory()); !IsPrecondition(err) {
		t.Errorf("stopped: error = %v, want precondition", err)
	}
	if len(p.signals) != 0 {
		t.Errorf("signalled a stopped machine: %v", p.signals)
	}

	p = runningProber()
	p.signalErr = errors.New("operation not permitted")
	if err := killWithDeps(context.Background(), env, "web", "", p.factory()); !IsExternal(err) {
		t.Errorf("signal failure: error = %v, want external", err)
	}
}

func TestRelayWithDeps(t *testing.T) {
	tests := []struct {
		op     string
		socket func(naming.Layout) string
	}{
		{"console", naming.Layout.ConsoleSocket},
		{"monitor", naming.Layout.MonitorSocket},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			env, out := testEnv(t)
			layout := writeMachine(t, env, testMachine("web"))
			touchSocket(t, tt.socket(layout))
			runner := &mockRunner{}

			err := relayWithDeps(context.Background(), env, tt.op, "web", tt.socket, true, runningProber().factory(), runner)
			if err != nil {
				t.Fatalf("relayWithDeps() error = %v", err)
			}
			want := monitor.RelayArgs(env.Defaults.Socat, tt.socket(layout), true)
			if len(runner.calls) != 1 || strings.Join(runner.calls[0], " ") != strings.Join(want, " ") {
				t.Errorf("calls = %v, want %v", runner.calls, want)
			}
			if !strings.Contains(out.String(), monitor.EscapeHint) {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestRelayWithDeps_Preconditions(t *testing.T) {
	env, _ := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))
	runner := &mockRunner{}

	err := relayWithDeps(context.Background(), env, "console", "web", naming.Layout.ConsoleSocket, false, stoppedProber().factory(), runner)
	if !IsPrecondition(err) {
		t.Errorf("stopped: error = %v, want precondition", err)
	}

	err = relayWithDeps(context.Background(), env, "console", "web", naming.Layout.ConsoleSocket, false, runningProber().factory(), runner)
	if !IsPrecondition(err) {
		t.Errorf("no socket: error = %v, want precondition", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("socat launched: %v", runner.calls)
	}

	touchSocket(t, layout.ConsoleSocket())
	runner.exitErr = errors.New("exit status 1")
	err = relayWithDeps(context.Background(), env, "console", "web", naming.Layout.ConsoleSocket, false, runningProber().factory(), runner)
	if !IsExternal(err) {
		t.Errorf("socat failure: error = %v, want external", err)
	}
}
