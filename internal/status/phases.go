// Package status derives the state of a machine from its runtime files.
package status

import (
	"time"
)

// State is the observed state of a machine.
type State string

const (
	// StateRunning means the PID file names a live hypervisor.
	StateRunning State = "running"
	// StateStopped means there is no PID file.
	StateStopped State = "stopped"
	// StateStale means a PID file was left behind by a hypervisor that is
	// gone. The machine is not running.
	StateStale State = "stale"
	// StateInvalid means the descriptor could not be loaded.
	StateInvalid State = "invalid"
)

// Prober reports on the hypervisor recorded in a PID file.
//
// In production, this is satisfied by *process.Process.
// In tests, this is satisfied by mock implementations.
type Prober interface {
	Exists() (bool, error)
	Stale() bool
	Pid() (int, error)
}

// Derive returns the state of the hypervisor behind p and, when running,
// its PID.
func Derive(p Prober) (State, int, error) {
	running, err := p.Exists()
	if err != nil {
		return "", 0, err
	}
	if running {
		pid, err := p.Pid()
		if err != nil {
			// Exited since the first probe.
			return StateStopped, 0, nil
		}
		return StateRunning, pid, nil
	}
	if p.Stale() {
		return StateStale, 0, nil
	}
	return StateStopped, 0, nil
}

// IsRunning returns true if the machine's hypervisor is alive.
func IsRunning(s State) bool {
	return s == StateRunning
}

// AllowsOffline returns true if offline actions (snapshot, clone) may touch
// the machine's files.
func AllowsOffline(s State) bool {
	return s == StateStopped || s == StateStale
}

// Info is one row of a machine listing.
type Info struct {
	Name    string    `json:"name" yaml:"name"`
	State   State     `json:"state" yaml:"state"`
	PID     int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	UUID    string    `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	MemMiB  int       `json:"mem" yaml:"mem"`
	SMP     int       `json:"smp" yaml:"smp"`
	Discs   []string  `json:"discs,omitempty" yaml:"discs,omitempty"`
	MACs    []string  `json:"macs,omitempty" yaml:"macs,omitempty"`
	// Created comes from the descriptor, or its mtime when not recorded.
	Created time.Time `json:"created" yaml:"created"`
	// Reason explains StateInvalid.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}
