package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/qvm/internal/output"
	"github.com/jbweber/qvm/internal/vm"
)

// List flags
var (
	listLong     bool
	outputFormat string
	noHeaders    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List machines",
	Long: `List machines.

Without --long only the names of running machines are printed, one per line.

Output formats (with --long):
  -o table  Human-readable table (default)
  -o yaml   YAML stream, one document per machine
  -o json   JSON array`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Validate output format
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		machines, err := vm.List(context.Background(), env)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !listLong {
			for _, name := range vm.RunningNames(machines) {
				fmt.Fprintln(out, name)
			}
			return nil
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatList(machines)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Fprint(out, result)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listLong, "long", "l", false, "list every machine with its state and resources")
	listCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format with --long: table, yaml, json")
	listCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit the table header")
}

var printDefaultsEffective bool

var printDefaultsCmd = &cobra.Command{
	Use:   "print-defaults",
	Short: "Print a defaults file template",
	Long: `Print the built-in defaults as YAML, ready to be saved as a defaults file.

With --effective the defaults in effect (after loading the defaults file and
applying --machines-dir) are printed instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.PrintDefaults(env, printDefaultsEffective)
	},
}

func init() {
	printDefaultsCmd.Flags().BoolVar(&printDefaultsEffective, "effective", false, "print the loaded defaults instead of the built-in ones")
}

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Print a machine as libvirt domain XML",
	Long: `Print the libvirt domain XML equivalent of a machine, for moving it under
libvirt management (virsh define).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return vm.Export(env, args[0])
	},
}
