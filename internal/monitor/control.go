// Package monitor talks to a running hypervisor: QMP commands over the
// control socket, and socat relays for the interactive monitor and serial
// console sockets.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds connecting to the control socket.
const DefaultTimeout = 2 * time.Second

// QMP commands sent by qvm.
const (
	CommandPowerdown = "system_powerdown"
	CommandQuit      = "quit"
)

// qmpMonitor is the part of a QMP connection qvm uses.
//
// In production, this is satisfied by *qmp.SocketMonitor.
// In tests, this is satisfied by mock implementations.
type qmpMonitor interface {
	Connect() error
	Disconnect() error
	Run(command []byte) ([]byte, error)
}

type dialFunc func(network, addr string, timeout time.Duration) (qmpMonitor, error)

func dialSocket(network, addr string, timeout time.Duration) (qmpMonitor, error) {
	mon, err := qmp.NewSocketMonitor(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return mon, nil
}

// Control sends QMP commands to one machine's control socket.
type Control struct {
	Socket  string
	Timeout time.Duration

	dial dialFunc
}

// NewControl returns a Control for the QMP socket at path.
func NewControl(path string) *Control {
	return &Control{Socket: path, Timeout: DefaultTimeout, dial: dialSocket}
}

// Powerdown asks the guest to shut down (ACPI power button).
func (c *Control) Powerdown() ([]byte, error) {
	return c.Execute(CommandPowerdown)
}

// Quit stops the hypervisor immediately.
func (c *Control) Quit() ([]byte, error) {
	return c.Execute(CommandQuit)
}

// Execute runs a single argument-less QMP command and returns the raw reply.
func (c *Control) Execute(command string) ([]byte, error) {
	if _, err := os.Stat(c.Socket); err != nil {
		return nil, fmt.Errorf("control socket %s: %w", c.Socket, err)
	}

	mon, err := c.dial("unix", c.Socket, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open control socket %s: %w", c.Socket, err)
	}

	input, err := json.Marshal(struct {
		Execute string `json:"execute"`
	}{
		Execute: command,
	})
	if err != nil {
		return nil, err
	}

	if err := mon.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to control socket %s: %w", c.Socket, err)
	}
	defer func() {
		if err := mon.Disconnect(); err != nil {
			logrus.Debugf("Disconnecting from %s: %v", c.Socket, err)
		}
	}()

	logrus.Debugf("QMP %s on %s", command, c.Socket)
	reply, err := mon.Run(input)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", command, err)
	}
	return reply, nil
}
