package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-shellwords"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/qvm/internal/naming"
)

// ErrNotFound is returned by LoadFromFile when no descriptor exists.
var ErrNotFound = errors.New("descriptor not found")

// LoadFromFile loads and validates the descriptor at path. The descriptor's
// name must match the directory it lives in.
func LoadFromFile(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	m, err := LoadFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dirName := filepath.Base(filepath.Dir(path))
	if m.Name != dirName {
		return nil, fmt.Errorf("%s: validation failed: name %q does not match directory %q", path, m.Name, dirName)
	}

	return m, nil
}

// LoadFromYAML parses and validates a descriptor from YAML bytes.
func LoadFromYAML(data []byte) (*Machine, error) {
	var m Machine
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	normalize(&m)

	if err := Validate(&m); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &m, nil
}

// SaveToFile writes m as YAML to path.
func SaveToFile(m *Machine, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// Marshal renders m as YAML.
func Marshal(m *Machine) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal machine to YAML: %w", err)
	}
	return data, nil
}

// normalize trims user input. Valid MAC addresses are rewritten to lower
// case with colons so that comparisons between descriptors are textual.
func normalize(m *Machine) {
	m.Name = strings.TrimSpace(m.Name)
	for i := range m.NICs {
		m.NICs[i].MAC = canonicalMAC(strings.TrimSpace(m.NICs[i].MAC))
	}
	for i := range m.Discs {
		m.Discs[i].File = strings.TrimSpace(m.Discs[i].File)
	}
}

// Validate checks every field of m and returns all problems found as a
// single *multierror.Error, or nil.
func Validate(m *Machine) error {
	var result *multierror.Error

	if m.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	} else if err := naming.CheckName(m.Name); err != nil {
		result = multierror.Append(result, fmt.Errorf("name: %w", err))
	}

	if m.UUID != "" {
		if _, err := uuid.Parse(m.UUID); err != nil {
			result = multierror.Append(result, fmt.Errorf("uuid: %w", err))
		}
	}

	if m.MemMiB <= 0 {
		result = multierror.Append(result, fmt.Errorf("mem must be > 0, got %d", m.MemMiB))
	}
	if m.SMP < 0 {
		result = multierror.Append(result, fmt.Errorf("smp must be >= 0, got %d", m.SMP))
	}

	filesSeen := make(map[string]bool)
	for i, d := range m.Discs {
		if d.Interface == "" {
			result = multierror.Append(result, fmt.Errorf("discs[%d].interface is required", i))
		}
		if !naming.ValidFile(d.File) {
			result = multierror.Append(result, fmt.Errorf("discs[%d].file must be a bare file name, got %q", i, d.File))
		}
		if filesSeen[d.File] {
			result = multierror.Append(result, fmt.Errorf("discs[%d].file %q is duplicated", i, d.File))
		}
		filesSeen[d.File] = true
	}

	macsSeen := make(map[string]bool)
	for i, n := range m.NICs {
		if n.Model == "" {
			result = multierror.Append(result, fmt.Errorf("nics[%d].model is required", i))
		}
		if !naming.ValidMAC(n.MAC) {
			result = multierror.Append(result, fmt.Errorf("nics[%d].mac is not a valid MAC address: %q", i, n.MAC))
		}
		mac := canonicalMAC(n.MAC)
		if macsSeen[mac] {
			result = multierror.Append(result, fmt.Errorf("nics[%d].mac %q is duplicated", i, n.MAC))
		}
		macsSeen[mac] = true
		if !naming.ValidBridge(n.Bridge) {
			result = multierror.Append(result, fmt.Errorf("nics[%d].bridge is not a valid bridge name: %q", i, n.Bridge))
		}
	}

	if m.ExtraArgs != "" {
		if _, err := shellwords.Parse(m.ExtraArgs); err != nil {
			result = multierror.Append(result, fmt.Errorf("extra_args: %w", err))
		}
	}

	if m.CloudInit != nil {
		for i, key := range m.CloudInit.SSHKeys {
			if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
				result = multierror.Append(result, fmt.Errorf("cloud_init.ssh_keys[%d] is not a valid SSH public key: %w", i, err))
			}
		}
	}

	return result.ErrorOrNil()
}

// canonicalMAC lower-cases a valid MAC address and joins it with colons.
// Invalid input is returned unchanged for Validate to report.
func canonicalMAC(mac string) string {
	if !naming.ValidMAC(mac) {
		return mac
	}
	return strings.ReplaceAll(strings.ToLower(mac), "-", ":")
}
