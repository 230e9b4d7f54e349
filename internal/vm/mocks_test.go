package vm

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/disk"
	"github.com/jbweber/qvm/internal/naming"
)

// mockProber is a mock implementation of the prober interface for testing.
type mockProber struct {
	mu sync.Mutex

	// Configurable behavior
	running   bool
	stale     bool
	pid       int
	existsErr error
	signalErr error

	// Call tracking
	signals []unix.Signal
	paths   []string
}

// factory returns a proberFactory that always hands out m.
func (m *mockProber) factory() proberFactory {
	return func(pidFile string) prober {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.paths = append(m.paths, pidFile)
		return m
	}
}

func (m *mockProber) Exists() (bool, error) {
	return m.running, m.existsErr
}

func (m *mockProber) Stale() bool {
	return m.stale
}

func (m *mockProber) Pid() (int, error) {
	return m.pid, nil
}

func (m *mockProber) Signal(sig unix.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return m.signalErr
}

func runningProber() *mockProber { return &mockProber{running: true, pid: 4242} }

func stoppedProber() *mockProber { return &mockProber{} }

// mockDiskManager is a mock implementation of the diskManager interface.
type mockDiskManager struct {
	mu sync.Mutex

	createErr      error
	snapshotErr    error
	snapshotOutput []byte

	createCalls   []string
	snapshotCalls []string
}

func newMockDiskManager() *mockDiskManager {
	return &mockDiskManager{}
}

func (m *mockDiskManager) Create(_ context.Context, path, format string, sizeBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, path)
	return m.createErr
}

func (m *mockDiskManager) Snapshot(_ context.Context, op disk.SnapshotOp, tag, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotCalls = append(m.snapshotCalls, string(op)+" "+tag+" "+filepath.Base(path))
	return m.snapshotOutput, m.snapshotErr
}

// mockController is a mock implementation of the controller interface.
type mockController struct {
	reply      []byte
	executeErr error

	sockets  []string
	commands []string
}

func (m *mockController) factory() controllerFactory {
	return func(socket string) controller {
		m.sockets = append(m.sockets, socket)
		return m
	}
}

func (m *mockController) Execute(command string) ([]byte, error) {
	m.commands = append(m.commands, command)
	return m.reply, m.executeErr
}

// mockRunner is a mock implementation of the commandRunner interface.
type mockRunner struct {
	mu sync.Mutex

	startErr error
	exitErr  error
	// onStart runs inside Start, e.g. to write the PID file.
	onStart func(argv []string)

	calls [][]string
}

func (m *mockRunner) Start(_ context.Context, argv []string) (func() error, error) {
	m.mu.Lock()
	m.calls = append(m.calls, argv)
	m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.onStart != nil {
		m.onStart(argv)
	}
	return func() error { return m.exitErr }, nil
}

// testEnv returns an Env with built-in defaults and an empty machines
// directory.
func testEnv(t *testing.T) (Env, *syncBuffer) {
	t.Helper()
	d := config.Builtin()
	d.MachinesDir = t.TempDir()
	out := &syncBuffer{}
	return Env{Defaults: d, Out: out}, out
}

// testMachine creates a minimal valid machine descriptor.
func testMachine(name string) *descriptor.Machine {
	return &descriptor.Machine{
		Name:   name,
		UUID:   "2f1c6f0e-5d7a-4d55-9d0e-8f3c1b1a2b3c",
		MemMiB: 1024,
		SMP:    2,
		Discs: []descriptor.Disc{
			{Interface: "virtio", File: "disc0.qcow2"},
			{Interface: "virtio", File: "data.raw"},
		},
		NICs: []descriptor.NIC{
			{Model: "virtio-net-pci", MAC: "52:54:00:12:34:56", Bridge: "br0"},
			{Model: "e1000", MAC: "52-54-00-AB-CD-EF", Bridge: "br1"},
		},
	}
}

// writeMachine writes m and empty disc files under env's machines dir.
func writeMachine(t *testing.T, env Env, m *descriptor.Machine) naming.Layout {
	t.Helper()
	layout := env.layout(m.Name)
	if err := os.MkdirAll(layout.Dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := descriptor.SaveToFile(m, layout.Descriptor()); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	for _, d := range m.Discs {
		if err := os.WriteFile(layout.File(d.File), []byte("disc "+d.File), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return layout
}

// syncBuffer is a bytes.Buffer safe for the start goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
}
