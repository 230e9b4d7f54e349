package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbweber/qvm/internal/config"
	"github.com/jbweber/qvm/internal/vm"
)

// Flags shared by create, start, clone and snapshot
var dryRun bool

func addDryRunFlag(fs *pflag.FlagSet) {
	fs.BoolVarP(&dryRun, "dry-run", "n", false, "print the commands that would run without running them")
}

// Create flags
var (
	createISO       string
	createMem       string
	createSMP       int
	createSize      string
	createInterface string
	createBridges   []string
	createSSHKeys   []string
)

var createCmd = &cobra.Command{
	Use:   "create <name> --iso <path>",
	Short: "Create a machine",
	Long: `Create a new machine directory with an empty disc image and a descriptor.

The descriptor gets a fresh UUID and one NIC with a random MAC address per
bridge. Values not given on the command line come from the defaults file.

Example:
  qvm create web --iso ~/isos/fedora-43.iso --mem 4G --size 40G`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := vm.CreateOptions{
			Name:      args[0],
			ISO:       createISO,
			SMP:       createSMP,
			DiscSize:  createSize,
			Interface: createInterface,
			SSHKeys:   createSSHKeys,
			DryRun:    dryRun,
		}
		if cmd.Flags().Changed("bridge") {
			opts.Bridges = createBridges
		}
		if createMem != "" {
			mem, err := config.ParseMemMiB(createMem)
			if err != nil {
				return &vm.Error{Kind: vm.KindValidation, Op: "create", Err: err}
			}
			opts.MemMiB = mem
		}

		return vm.Create(context.Background(), env, opts)
	},
}

func init() {
	createCmd.Flags().StringVar(&createISO, "iso", "", "installation ISO attached as CD-ROM (required)")
	createCmd.Flags().StringVarP(&createMem, "mem", "m", "", "memory, MiB or with unit suffix (e.g. 4G)")
	createCmd.Flags().IntVar(&createSMP, "smp", 0, "number of virtual CPUs")
	createCmd.Flags().StringVarP(&createSize, "size", "s", "", "disc size (e.g. 20G)")
	createCmd.Flags().StringVar(&createInterface, "interface", "", "disc interface (e.g. virtio, ide)")
	createCmd.Flags().StringSliceVar(&createBridges, "bridge", nil, "bridge for a NIC, repeatable; empty for no network")
	createCmd.Flags().StringArrayVar(&createSSHKeys, "ssh-key", nil, "SSH public key for cloud-init, repeatable")
	addDryRunFlag(createCmd.Flags())
}

// Start flags
var (
	startBackground bool
	startDisplay    string
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a machine",
	Long: `Start the hypervisor for a machine.

The command line is printed before it runs. Without --background the
hypervisor shares this terminal and qvm returns when it exits. Starting a
machine that is already running is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Start(context.Background(), env, args[0], vm.StartOptions{
			Background: startBackground,
			Display:    startDisplay,
			DryRun:     dryRun,
		})
	},
}

func init() {
	startCmd.Flags().BoolVarP(&startBackground, "background", "b", false, "detach the hypervisor (-daemonize)")
	startCmd.Flags().StringVar(&startDisplay, "display", "", "value for -display (e.g. none, gtk, vnc=:1)")
	addDryRunFlag(startCmd.Flags())
}

var cloneCmd = &cobra.Command{
	Use:   "clone <source> <target>",
	Short: "Copy a stopped machine",
	Long: `Copy a stopped machine's directory to a new name.

The copy gets a new UUID and new MAC addresses; runtime files (PID file,
sockets, seed ISO) are not copied. With --dry-run the new descriptor is
printed instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Clone(context.Background(), env, args[0], args[1], dryRun)
	},
}

func init() {
	addDryRunFlag(cloneCmd.Flags())
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <name> <create|apply|delete|list> [tag]",
	Short: "Manage disc snapshots of a stopped machine",
	Long: `Run qemu-img snapshot against every disc of a stopped machine.

Live snapshots are refused. create, apply and delete need a tag.

Example:
  qvm snapshot web create pre-upgrade
  qvm snapshot web list`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := vm.SnapshotOptions{Op: args[1], DryRun: dryRun}
		if len(args) == 3 {
			opts.Tag = args[2]
		}
		return vm.Snapshot(context.Background(), env, args[0], opts)
	},
}

func init() {
	addDryRunFlag(snapshotCmd.Flags())
}
