package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	defaultsPath string
	machinesDir  string
	logLevel     string
)

// env is built once in PersistentPreRunE and passed to every operation.
var env vm.Env

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qvm",
	Short: "qvm - personal QEMU machine wrapper",
	Long: `qvm manages local QEMU virtual machines, one directory per machine.

Each machine lives in <machines_dir>/<name>/ next to its machine.yaml
descriptor and disc images. qvm builds the qemu-system command line from the
descriptor and a global defaults file, and uses qemu-img for discs and socat
for console and monitor access.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stderr)

		// The built-in template never depends on the defaults file.
		if cmd == printDefaultsCmd && !printDefaultsEffective {
			env = vm.Env{Defaults: config.Builtin(), Out: cmd.OutOrStdout()}
			return nil
		}

		path := defaultsPath
		if path == "" {
			path = config.DefaultPath()
		}
		logrus.Debugf("Loading defaults from %s", path)
		d, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
		if machinesDir != "" {
			d.SetMachinesDir(machinesDir)
		}

		env = vm.Env{Defaults: d, Out: cmd.OutOrStdout()}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&defaultsPath, "defaults", "",
		"defaults file (default $"+config.EnvDefaults+" or ~/.config/qvm/defaults.yaml)")
	rootCmd.PersistentFlags().StringVar(&machinesDir, "machines-dir", "", "directory holding the machines (overrides the defaults file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(powerdownCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(printDefaultsCmd)
	rootCmd.AddCommand(exportCmd)
}
