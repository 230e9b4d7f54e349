package vm

import (
	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/libvirt"
	"github.com/jbweber/qvm/internal/qemu"
)

// PrintDefaults writes a YAML template of the built-in defaults, or of the
// defaults currently in effect when effective is set.
func PrintDefaults(env Env, effective bool) error {
	d := config.Builtin()
	if effective {
		d = env.Defaults
	}
	out, err := d.Template()
	if err != nil {
		return externalf("print-defaults", "%w", err)
	}
	env.printf("%s", out)
	return nil
}

// Export writes the libvirt domain XML equivalent to the named machine.
func Export(env Env, name string) error {
	const op = "export"

	m, layout, err := loadMachine(op, env, name)
	if err != nil {
		return err
	}
	settings := qemu.Resolve(m, env.Defaults)
	if err := settings.Validate(m); err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}

	xml, err := libvirt.GenerateDomainXML(m, settings, layout)
	if err != nil {
		return externalf(op, "%w", err)
	}
	env.printf("%s\n", xml)
	return nil
}
