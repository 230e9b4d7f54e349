package cloudinit

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/qvm/internal/descriptor"
)

// VolumeLabel is the label the NoCloud datasource looks for.
const VolumeLabel = "CIDATA"

// GenerateISO creates a cloud-init NoCloud seed image for m.
//
// The generated ISO contains, in the root directory:
//   - user-data: Cloud-config YAML with hostname and SSH keys
//   - meta-data: Instance metadata (instance-id, local-hostname)
//   - network-config: DHCP on every NIC, only when the machine has NICs
//
// Returns the ISO image as a byte slice.
func GenerateISO(m *descriptor.Machine) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("machine cannot be nil")
	}

	userData, err := GenerateUserData(m)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(m)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig(m)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Staging files only; the image is already in memory.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	if networkConfig != "" {
		if err := writer.AddFile(bytes.NewReader([]byte(networkConfig)), "network-config"); err != nil {
			return nil, fmt.Errorf("failed to add network-config: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteISO generates the seed image for m and writes it to path.
func WriteISO(m *descriptor.Machine, path string) error {
	data, err := GenerateISO(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cloud-init ISO %s: %w", path, err)
	}
	return nil
}

// ProbeISO opens the image at path as ISO 9660 and returns its volume label.
// It is used to catch installation images that are not ISO files at all.
func ProbeISO(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return "", fmt.Errorf("%s is not an ISO 9660 image: %w", path, err)
	}

	label, err := img.Label()
	if err != nil {
		return "", fmt.Errorf("failed to read volume label of %s: %w", path, err)
	}
	return label, nil
}
