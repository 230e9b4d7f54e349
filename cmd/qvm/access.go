package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jbweber/qvm/internal/vm"
)

var consoleCmd = &cobra.Command{
	Use:   "console <name>",
	Short: "Attach to a running machine's serial console",
	Long: `Relay this terminal to the machine's serial console socket with socat.

On a terminal the session is raw; press Ctrl-] to disconnect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Console(context.Background(), env, args[0])
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <name>",
	Short: "Attach to a running machine's QEMU monitor",
	Long: `Relay this terminal to the machine's human monitor socket with socat.

On a terminal the session is raw; press Ctrl-] to disconnect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Monitor(context.Background(), env, args[0])
	},
}

var powerdownCmd = &cobra.Command{
	Use:   "powerdown <name>",
	Short: "Ask a running machine to shut down",
	Long: `Send system_powerdown over the machine's QMP socket (ACPI power button).

The guest decides whether and when to shut down.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Powerdown(context.Background(), env, args[0])
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit <name>",
	Short: "Stop a running machine's hypervisor immediately",
	Long:  `Send quit over the machine's QMP socket. The guest is not shut down cleanly.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Quit(context.Background(), env, args[0])
	},
}

var killSignal string

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Signal a running machine's hypervisor",
	Long: `Send a signal (default TERM) to the hypervisor process recorded in the
machine's PID file.

Example:
  qvm kill web
  qvm kill web -s KILL`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Kill(context.Background(), env, args[0], killSignal)
	},
}

func init() {
	killCmd.Flags().StringVarP(&killSignal, "signal", "s", "TERM", "signal name or number")
}
