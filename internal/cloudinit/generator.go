// Package cloudinit provides cloud-init configuration generation for machines
// that ask for it in their descriptor.
//
// This package generates cloud-init configuration files (user-data, meta-data, network-config)
// in the layout the cloud-init NoCloud datasource expects.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/qvm/internal/descriptor"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
	Output            *Output  `yaml:"output,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one interface, matched by MAC address, by DHCP.
type EthernetConfig struct {
	Match   MatchConfig `yaml:"match"`
	SetName string      `yaml:"set-name"`
	DHCP4   bool        `yaml:"dhcp4"`
	DHCP6   bool        `yaml:"dhcp6"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// GenerateUserData generates the user-data content: the machine name as
// hostname plus the descriptor's SSH keys.
func GenerateUserData(m *descriptor.Machine) (string, error) {
	if m == nil {
		return "", fmt.Errorf("machine cannot be nil")
	}

	userData := UserData{
		Hostname:        m.Name,
		SSHPasswordAuth: false,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}
	if m.CloudInit != nil && len(m.CloudInit.SSHKeys) > 0 {
		userData.SSHAuthorizedKeys = m.CloudInit.SSHKeys
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data content.
//
// The instance-id is the machine UUID, so a clone (which gets a new UUID)
// is provisioned again on first boot. Machines without a UUID fall back to
// their name.
func GenerateMetaData(m *descriptor.Machine) (string, error) {
	if m == nil {
		return "", fmt.Errorf("machine cannot be nil")
	}

	instanceID := m.UUID
	if instanceID == "" {
		instanceID = m.Name
	}

	yamlBytes, err := yaml.Marshal(&MetaData{
		InstanceID:    instanceID,
		LocalHostname: m.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig enables DHCP on every NIC of the machine. It returns
// "" for a machine without NICs.
func GenerateNetworkConfig(m *descriptor.Machine) (string, error) {
	if m == nil {
		return "", fmt.Errorf("machine cannot be nil")
	}
	if len(m.NICs) == 0 {
		return "", nil
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig),
	}

	for i, nic := range m.NICs {
		ethName := fmt.Sprintf("eth%d", i)
		networkConfig.Ethernets[ethName] = EthernetConfig{
			Match:   MatchConfig{MACAddress: nic.MAC},
			SetName: ethName,
			DHCP4:   true,
			DHCP6:   true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
