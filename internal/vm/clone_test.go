package vm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/qvm/internal/descriptor"
	"github.com/jbweber/qvm/internal/naming"
)

// TestCloneWithDeps_Success tests the happy path
func TestCloneWithDeps_Success(t *testing.T) {
	env, _ := testEnv(t)
	src := testMachine("web")
	src.Created = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	srcLayout := writeMachine(t, env, src)
	for _, f := range naming.RuntimeFiles() {
		if err := os.WriteFile(srcLayout.File(f), []byte("runtime"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := cloneWithDeps(context.Background(), env, "web", "web2", false, stoppedProber().factory()); err != nil {
		t.Fatalf("cloneWithDeps() error = %v", err)
	}

	dstLayout := env.layout("web2")
	dst, err := descriptor.LoadFromFile(dstLayout.Descriptor())
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if dst.Name != "web2" {
		t.Errorf("name = %q, want web2", dst.Name)
	}
	if dst.UUID == "" || dst.UUID == src.UUID {
		t.Errorf("uuid = %q, source %q", dst.UUID, src.UUID)
	}
	assertFreshMACs(t, src, dst)
	if !dst.Created.After(src.Created) {
		t.Errorf("created = %v, source %v", dst.Created, src.Created)
	}

	for _, d := range src.Discs {
		data, err := os.ReadFile(dstLayout.File(d.File))
		if err != nil || string(data) != "disc "+d.File {
			t.Errorf("disc %s not copied: %q, %v", d.File, data, err)
		}
	}
	for _, f := range naming.RuntimeFiles() {
		if _, err := os.Stat(dstLayout.File(f)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("runtime file %s was copied", f)
		}
	}

	// The source is untouched.
	again, err := descriptor.LoadFromFile(srcLayout.Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	if again.UUID != src.UUID || again.NICs[0].MAC != src.NICs[0].MAC {
		t.Errorf("source descriptor changed: %+v", again)
	}
}

func assertFreshMACs(t *testing.T, src, dst *descriptor.Machine) {
	t.Helper()
	if len(dst.NICs) != len(src.NICs) {
		t.Fatalf("NIC count = %d, want %d", len(dst.NICs), len(src.NICs))
	}
	seen := make(map[string]bool)
	for _, mac := range src.MACs() {
		seen[normalizeMAC(mac)] = true
	}
	for i, nic := range dst.NICs {
		if !naming.ValidMAC(nic.MAC) {
			t.Errorf("nics[%d].mac %q is invalid", i, nic.MAC)
		}
		if seen[normalizeMAC(nic.MAC)] {
			t.Errorf("nics[%d].mac %q is not fresh", i, nic.MAC)
		}
		seen[normalizeMAC(nic.MAC)] = true
		if nic.Bridge != src.NICs[i].Bridge || nic.Model != src.NICs[i].Model {
			t.Errorf("nics[%d] = %+v, want bridge/model of %+v", i, nic, src.NICs[i])
		}
	}
}

func TestCloneWithDeps_RefusesRunning(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))

	for _, dryRun := range []bool{false, true} {
		err := cloneWithDeps(context.Background(), env, "web", "web2", dryRun, runningProber().factory())
		if !IsPrecondition(err) {
			t.Fatalf("dryRun=%v: error = %v, want precondition", dryRun, err)
		}
	}
	if _, err := os.Stat(env.layout("web2").Dir); !errors.Is(err, os.ErrNotExist) {
		t.Error("target directory created for a running source")
	}
}

func TestCloneWithDeps_RefusesExistingTarget(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))
	writeMachine(t, env, testMachine("db"))

	err := cloneWithDeps(context.Background(), env, "web", "db", false, stoppedProber().factory())
	if !IsPrecondition(err) {
		t.Fatalf("error = %v, want precondition", err)
	}
}

func TestCloneWithDeps_InvalidTarget(t *testing.T) {
	env, _ := testEnv(t)
	writeMachine(t, env, testMachine("web"))

	for _, target := range []string{"", "9lives", "../escape", "has space"} {
		err := cloneWithDeps(context.Background(), env, "web", target, false, stoppedProber().factory())
		if !IsValidation(err) {
			t.Errorf("target %q: error = %v, want validation", target, err)
		}
	}
}

func TestCloneWithDeps_DryRun(t *testing.T) {
	env, out := testEnv(t)
	src := testMachine("web")
	writeMachine(t, env, src)

	if err := cloneWithDeps(context.Background(), env, "web", "web2", true, stoppedProber().factory()); err != nil {
		t.Fatalf("cloneWithDeps() error = %v", err)
	}
	if _, err := os.Stat(env.layout("web2").Dir); !errors.Is(err, os.ErrNotExist) {
		t.Error("dry run created the target directory")
	}

	printed, err := descriptor.LoadFromYAML([]byte(out.String()))
	if err != nil {
		t.Fatalf("dry run output is not a descriptor: %v\n%s", err, out.String())
	}
	if printed.Name != "web2" {
		t.Errorf("name = %q", printed.Name)
	}
	assertFreshMACs(t, src, printed)
}

func TestCloneMachine_NoNICs(t *testing.T) {
	src := testMachine("web")
	src.NICs = nil

	dst, err := cloneMachine(src, "copy")
	if err != nil {
		t.Fatal(err)
	}
	if dst.Name != "copy" || len(dst.NICs) != 0 || len(dst.Discs) != len(src.Discs) {
		t.Errorf("clone = %+v", dst)
	}
}

func TestNormalizeMAC(t *testing.T) {
	if got := normalizeMAC("52-54-00-AB-cd-EF"); got != "52:54:00:ab:cd:ef" {
		t.Errorf("normalizeMAC() = %q", got)
	}
	if got := normalizeMAC("52:54:00:ab:cd:ef"); !strings.EqualFold(got, "52:54:00:ab:cd:ef") {
		t.Errorf("normalizeMAC() = %q", got)
	}
}
