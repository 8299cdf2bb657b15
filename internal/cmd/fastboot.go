package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/facade"
	"github.com/flashkit/flashkit/internal/fastboot"
	"github.com/flashkit/flashkit/internal/output"
	"github.com/flashkit/flashkit/internal/rawprogram"
	"github.com/flashkit/flashkit/internal/transport"
)

var (
	fbPort   string
	fbSerial string
	fbAllowSensitive bool
)

func addFastbootCommands(parent *cobra.Command) {
	fb := &cobra.Command{
		Use:   "fastboot",
		Short: "Operate a device in fastboot mode",
	}
	fb.PersistentFlags().StringVar(&fbPort, "port", "", "USB/serial port (required)")
	fb.PersistentFlags().StringVar(&fbSerial, "serial", "", "Device serial number, for multi-device hosts")
	fb.PersistentFlags().BoolVar(&fbAllowSensitive, "allow-sensitive", false, "Permit writes to sensitive-named partitions")
	fb.MarkPersistentFlagRequired("port")

	fb.AddCommand(&cobra.Command{
		Use:   "list-partitions",
		Short: "List known partition sizes from getvar:all",
		Args:  cobra.NoArgs,
		RunE:  runFastbootList,
	})
	write := &cobra.Command{
		Use:   "flash <partition> <image-file>",
		Short: "Flash a local image to a partition",
		Args:  cobra.ExactArgs(2),
		RunE:  runFastbootFlash,
	}
	write.Flags().Bool("sparse", false, "Re-segment and stream as sparse chunks")
	fb.AddCommand(write)
	fb.AddCommand(&cobra.Command{
		Use:   "erase <partition>",
		Short: "Erase a partition",
		Args:  cobra.ExactArgs(1),
		RunE:  runFastbootErase,
	})
	fb.AddCommand(&cobra.Command{
		Use:   "set-active-slot <slot>",
		Short: "Switch the active A/B slot",
		Args:  cobra.ExactArgs(1),
		RunE:  runFastbootSetSlot,
	})
	fb.AddCommand(&cobra.Command{
		Use:   "reboot [mode]",
		Short: "Reboot the device (normal|bootloader|recovery|edl)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFastbootReboot,
	})

	runScript := &cobra.Command{
		Use:   "run-script <flash_all-style script>",
		Short: "Execute a flash/erase/reboot/sleep line-based flash script",
		Args:  cobra.ExactArgs(1),
		RunE:  runFastbootScript,
	}
	runScript.Flags().Bool("allow-lock-bootloader", false, "Permit tasks whose image matched the \"_lock\" filename convention")
	fb.AddCommand(runScript)

	fb.AddCommand(&cobra.Command{
		Use:   "flash-payload <partition> <payload.bin>",
		Short: "Reconstruct a partition from an OTA payload.bin/ZIP and flash it",
		Args:  cobra.ExactArgs(2),
		RunE:  runFastbootFlashPayload,
	})

	parent.AddCommand(fb)
}

func connectFastboot(ctx context.Context) (*facade.FastbootSession, error) {
	ch, err := transport.OpenSerial(fbPort, 115200)
	if err != nil {
		return nil, err
	}
	return facade.ConnectFastboot(ctx, ch, facade.FastbootOptions{Serial: fbSerial})
}

func runFastbootList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	table := sess.ReadPartitionTable()
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), table)
	}
	for _, p := range table {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s bytes=%d\n", p.Name, p.NumSectors)
	}
	return nil
}

func runFastbootFlash(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}

	sparse, _ := cmd.Flags().GetBool("sparse")
	return runObserved(sess.Events(), "flashing "+args[0], func() error {
		defer sess.Disconnect()
		in, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer in.Close()
		fi, err := in.Stat()
		if err != nil {
			return err
		}
		isSensitive := rawprogram.IsSensitive(args[0])
		return sess.WritePartition(ctx, args[0], in, fi.Size(), sparse, isSensitive, fbAllowSensitive)
	})
}

func runFastbootErase(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}
	return runObserved(sess.Events(), "erasing "+args[0], func() error {
		defer sess.Disconnect()
		return sess.ErasePartition(ctx, args[0])
	})
}

func runFastbootSetSlot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()
	return sess.SetActiveSlot(ctx, args[0])
}

func runFastbootScript(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}

	allowLock, _ := cmd.Flags().GetBool("allow-lock-bootloader")
	return runObserved(sess.Events(), "running "+args[0], func() error {
		defer sess.Disconnect()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		outcomes, err := sess.RunScript(ctx, f, fastboot.RunOptions{
			BaseDir:             filepath.Dir(args[0]),
			AllowSensitive:      fbAllowSensitive,
			AllowLockBootloader: allowLock,
		})
		if err != nil {
			return err
		}
		var firstErr error
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %v\n", o.Task.Line(), o.Err)
				if firstErr == nil {
					firstErr = o.Err
				}
			}
		}
		return firstErr
	})
}

func runFastbootFlashPayload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}

	partition, payloadPath := args[0], args[1]
	isSensitive := rawprogram.IsSensitive(partition)
	return runObserved(sess.Events(), "flashing "+partition+" from payload", func() error {
		defer sess.Disconnect()
		return sess.FlashFromPayload(ctx, partition, payloadPath, isSensitive, fbAllowSensitive)
	})
}

func runFastbootReboot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectFastboot(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	mode := facade.RebootNormal
	if len(args) == 1 {
		mode = args[0]
	}
	return sess.Reboot(ctx, mode)
}
