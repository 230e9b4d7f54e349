package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/qvm/internal/bridge"
)

var (
	version = "dev"
	commit  = "unknown"
)

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qvm-bridge",
	Short: "qvm-bridge - prepare host bridges for qvm machines",
	Long: `qvm-bridge creates the Linux bridge qvm machines attach to, gives it an
address, and creates tap devices enslaved to it. Running it again with the
same arguments changes nothing. Needs CAP_NET_ADMIN.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(showCmd)
}

// Up flags
var (
	upAddress     string
	upTaps        []string
	upAllowHelper bool
	upHelperACL   string
)

var upCmd = &cobra.Command{
	Use:   "up <bridge>",
	Short: "Create and configure a bridge",
	Long: `Create the bridge if needed, add the address, bring it up, and create and
attach the requested tap devices.

Example:
  qvm-bridge up br0 --address 192.168.100.1/24 --tap tap0 --allow-helper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := bridge.Options{
			Bridge:  args[0],
			Address: upAddress,
			Taps:    upTaps,
		}
		if upAllowHelper {
			opts.HelperACL = upHelperACL
		}
		if err := opts.Validate(); err != nil {
			return err
		}

		mgr, err := bridge.NewManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Up(opts); err != nil {
			return fmt.Errorf("failed to set up %s: %w", opts.Bridge, err)
		}

		summary, err := mgr.Show(opts.Bridge)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), summary.String())
		return nil
	},
}

func init() {
	upCmd.Flags().StringVar(&upAddress, "address", "", "address in CIDR notation (e.g. 192.168.100.1/24)")
	upCmd.Flags().StringArrayVar(&upTaps, "tap", nil, "tap device to create and attach, repeatable")
	upCmd.Flags().BoolVar(&upAllowHelper, "allow-helper", false, "allow the bridge in the qemu-bridge-helper ACL")
	upCmd.Flags().StringVar(&upHelperACL, "helper-acl", bridge.DefaultHelperACL, "qemu-bridge-helper ACL file")
}

var showCmd = &cobra.Command{
	Use:   "show <bridge>",
	Short: "Show a bridge's state, addresses and members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := bridge.NewManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		summary, err := mgr.Show(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), summary.String())
		return nil
	},
}
