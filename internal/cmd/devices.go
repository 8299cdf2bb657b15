package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/devicewatch"
	"github.com/flashkit/flashkit/internal/output"
)

func addDevicesCommand(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached devices and their protocol personality",
		Args:  cobra.NoArgs,
		RunE:  runDevices,
	}
	parent.AddCommand(cmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := devicewatch.ListDevices()
	if err != nil {
		return err
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), devices)
	}

	if len(devices) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices found.")
		return nil
	}
	for _, d := range devices {
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-24s %04x:%04x %s\n", d.ID, d.Path, d.VendorID, d.ProductID, d.Personality)
	}
	return nil
}
