package vm

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jbweber/qvm/internal/config"
)

func TestExport(t *testing.T) {
	env, out := testEnv(t)
	layout := writeMachine(t, env, testMachine("web"))

	if err := Export(env, "web"); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	xml := out.String()
	for _, want := range []string{"<domain", "<name>web</name>", layout.File("disc0.qcow2"), "52:54:00:12:34:56"} {
		if !strings.Contains(xml, want) {
			t.Errorf("XML missing %q", want)
		}
	}
}

func TestExport_Errors(t *testing.T) {
	env, _ := testEnv(t)
	if err := Export(env, "ghost"); !IsPrecondition(err) {
		t.Errorf("missing machine: error = %v, want precondition", err)
	}

	m := testMachine("web")
	m.Accel = "warp"
	writeMachine(t, env, m)
	if err := Export(env, "web"); !IsValidation(err) {
		t.Errorf("bad accel: error = %v, want validation", err)
	}
}

func TestPrintDefaults(t *testing.T) {
	env, out := testEnv(t)
	env.Defaults.MemMiB = 8192

	if err := PrintDefaults(env, false); err != nil {
		t.Fatal(err)
	}
	builtin := out.String()
	if !strings.Contains(builtin, "mem: 2048") {
		t.Errorf("builtin template = %q", builtin)
	}
	if _, err := config.LoadFromYAML([]byte(builtin)); err != nil {
		t.Errorf("template does not load back: %v", err)
	}

	out.Reset()
	if err := PrintDefaults(env, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "mem: 8192") {
		t.Errorf("effective template = %q", out.String())
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindPrecondition, Op: "start", Err: base})

	if !IsPrecondition(err) || IsValidation(err) || IsExternal(err) {
		t.Errorf("kind checks wrong for %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("Error does not unwrap")
	}
	if got := err.Error(); got != "wrapped: start: boom" {
		t.Errorf("Error() = %q", got)
	}
	if IsValidation(base) {
		t.Error("plain error reported as validation")
	}
	if KindExternal.String() != "external" || Kind(9).String() != "kind(9)" {
		t.Error("Kind.String() mismatch")
	}
}
