package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/chipdb"
	"github.com/flashkit/flashkit/internal/facade"
	"github.com/flashkit/flashkit/internal/output"
	"github.com/flashkit/flashkit/internal/pac"
	"github.com/flashkit/flashkit/internal/rawprogram"
	"github.com/flashkit/flashkit/internal/transport"
)

var (
	usPort      string
	usFDL1Path  string
	usFDL2Path  string
	usFDL1Addr  uint32
	usFDL2Addr  uint32
	usChunkSize int
	usChipID    uint32
	usSize      uint32
	usAllowSensitive bool
	usPacPath   string
)

func addUnisocCommands(parent *cobra.Command) {
	us := &cobra.Command{
		Use:   "unisoc",
		Short: "Operate a Spreadtrum/Unisoc device over BROM/FDL1/FDL2",
	}
	us.PersistentFlags().StringVar(&usPort, "port", "", "Serial/USB port (required)")
	us.PersistentFlags().StringVar(&usFDL1Path, "fdl1", "", "Path to the FDL1 image (overrides --pac's FDL1)")
	us.PersistentFlags().StringVar(&usFDL2Path, "fdl2", "", "Path to the FDL2 image (overrides --pac's FDL2)")
	us.PersistentFlags().Uint32Var(&usFDL1Addr, "fdl1-address", 0, "FDL1 load address override")
	us.PersistentFlags().Uint32Var(&usFDL2Addr, "fdl2-address", 0, "FDL2 load address override")
	us.PersistentFlags().IntVar(&usChunkSize, "chunk-size", 4096, "Upload chunk size in bytes")
	us.PersistentFlags().Uint32Var(&usChipID, "chip-id", 0, "Chip ID for the built-in chip database lookup")
	us.PersistentFlags().BoolVar(&usAllowSensitive, "allow-sensitive", false, "Permit writes to sensitive-named partitions")
	us.PersistentFlags().StringVar(&usPacPath, "pac", "", "Path to a Unisoc PAC firmware package supplying FDL1/FDL2 and load-address overrides when --fdl1/--fdl2 are omitted")
	us.MarkPersistentFlagRequired("port")

	us.AddCommand(&cobra.Command{
		Use:   "list-partitions",
		Short: "List known partition sizes",
		Args:  cobra.NoArgs,
		RunE:  runUnisocList,
	})
	read := &cobra.Command{
		Use:   "read <partition> <output-file>",
		Short: "Read a partition to a local file",
		Args:  cobra.ExactArgs(2),
		RunE:  runUnisocRead,
	}
	us.AddCommand(read)
	write := &cobra.Command{
		Use:   "write <partition> <input-file>",
		Short: "Write a local file to a partition",
		Args:  cobra.ExactArgs(2),
		RunE:  runUnisocWrite,
	}
	write.Flags().Uint32Var(&usSize, "size", 0, "Partition size in bytes, if not already known")
	us.AddCommand(write)
	erase := &cobra.Command{
		Use:   "erase <partition>",
		Short: "Erase a partition",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnisocErase,
	}
	erase.Flags().Uint32Var(&usSize, "size", 0, "Partition size in bytes, if not already known")
	us.AddCommand(erase)
	reboot := &cobra.Command{
		Use:   "reboot [mode]",
		Short: "Reboot the device (normal|edl)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runUnisocReboot,
	}
	us.AddCommand(reboot)
	us.AddCommand(&cobra.Command{
		Use:   "flash-pac <partition>",
		Short: "Flash a partition straight out of the --pac package's entry table",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnisocFlashPac,
	})

	parent.AddCommand(us)
}

// resolvedFdls holds the FDL1/FDL2 bytes plus their PAC-derived
// load-address tiers, merged from an optional --pac package and the
// explicit --fdl1/--fdl2/--fdl1-address/--fdl2-address overrides (spec
// §4.10's user > PAC-XML > PAC-embedded precedence; chip-database is
// resolved separately from --chip-id).
type resolvedFdls struct {
	fdl1, fdl2                  []byte
	fdl1PacXML, fdl1PacEmbedded uint32
	fdl2PacXML, fdl2PacEmbedded uint32
}

// resolveUnisocFdls loads FDL1/FDL2 bytes from --fdl1/--fdl2 when given,
// falling back to a --pac package's FDL1/FDL2 entries, and extracts the
// PAC's embedded XML load-address overrides when present.
func resolveUnisocFdls() (resolvedFdls, error) {
	var out resolvedFdls

	var pkg pac.Package
	var pacData []byte
	if usPacPath != "" {
		data, err := os.ReadFile(usPacPath)
		if err != nil {
			return out, err
		}
		pacData = data
		p, err := pac.Parse(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return out, err
		}
		pkg = p

		if xmlEntry, ok := pkg.FindByType(pac.TypeXML); ok {
			overrides, err := pac.ParseEmbeddedXML(pacData[xmlEntry.DataOffset : xmlEntry.DataOffset+xmlEntry.Size])
			if err == nil {
				for _, o := range overrides {
					if fdl1, ok := pkg.FindByType(pac.TypeFDL1); ok && o.PartitionID == fdl1.PartitionName {
						out.fdl1PacXML = o.LoadAddress
					}
					if fdl2, ok := pkg.FindByType(pac.TypeFDL2); ok && o.PartitionID == fdl2.PartitionName {
						out.fdl2PacXML = o.LoadAddress
					}
				}
			}
		}
		if e, ok := pkg.FindByType(pac.TypeFDL1); ok {
			out.fdl1PacEmbedded = e.LoadAddress
		}
		if e, ok := pkg.FindByType(pac.TypeFDL2); ok {
			out.fdl2PacEmbedded = e.LoadAddress
		}
	}

	if usFDL1Path != "" {
		data, err := os.ReadFile(usFDL1Path)
		if err != nil {
			return out, err
		}
		out.fdl1 = data
	} else if usPacPath != "" {
		data, err := pkg.ExtractByType(bytes.NewReader(pacData), pac.TypeFDL1)
		if err != nil {
			return out, err
		}
		out.fdl1 = data
	} else {
		return out, fmt.Errorf("one of --fdl1 or --pac is required")
	}

	if usFDL2Path != "" {
		data, err := os.ReadFile(usFDL2Path)
		if err != nil {
			return out, err
		}
		out.fdl2 = data
	} else if usPacPath != "" {
		data, err := pkg.ExtractByType(bytes.NewReader(pacData), pac.TypeFDL2)
		if err != nil {
			return out, err
		}
		out.fdl2 = data
	} else {
		return out, fmt.Errorf("one of --fdl2 or --pac is required")
	}

	return out, nil
}

func connectUnisoc(ctx context.Context) (*facade.UnisocSession, error) {
	fdls, err := resolveUnisocFdls()
	if err != nil {
		return nil, err
	}

	ch, err := transport.OpenSerial(usPort, 115200)
	if err != nil {
		return nil, err
	}

	var chip chipdb.ChipEntry
	if usChipID != 0 {
		chip, _ = chipdb.NewMemoryDB().Lookup(usChipID)
	}

	return facade.ConnectUnisoc(ctx, ch, facade.UnisocOptions{
		FDL1:                   fdls.fdl1,
		FDL1Address:            usFDL1Addr,
		FDL1PacXMLAddress:      fdls.fdl1PacXML,
		FDL1PacEmbeddedAddress: fdls.fdl1PacEmbedded,
		FDL2:                   fdls.fdl2,
		FDL2Address:            usFDL2Addr,
		FDL2PacXMLAddress:      fdls.fdl2PacXML,
		FDL2PacEmbeddedAddress: fdls.fdl2PacEmbedded,
		ChunkSize:              usChunkSize,
		Chip:                   chip,
	})
}

func runUnisocList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	table := sess.ReadPartitionTable(ctx)
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), table)
	}
	for _, p := range table {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s bytes=%d\n", p.Name, p.NumSectors)
	}
	return nil
}

func runUnisocRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
	if err != nil {
		return err
	}

	return runObserved(sess.Events(), "reading "+args[0], func() error {
		defer sess.Disconnect()
		out, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer out.Close()
		return sess.ReadPartition(ctx, facade.ByName(args[0]), out)
	})
}

func runUnisocWrite(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
	if err != nil {
		return err
	}

	return runObserved(sess.Events(), "writing "+args[0], func() error {
		defer sess.Disconnect()
		in, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer in.Close()
		isSensitive := rawprogram.IsSensitive(args[0])
		return sess.WritePartition(ctx, facade.ByName(args[0]), usSize, in, isSensitive, usAllowSensitive)
	})
}

func runUnisocErase(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
	if err != nil {
		return err
	}
	return runObserved(sess.Events(), "erasing "+args[0], func() error {
		defer sess.Disconnect()
		return sess.ErasePartition(ctx, facade.ByName(args[0]))
	})
}

func runUnisocReboot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
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

// runUnisocFlashPac streams one partition's bytes directly out of the
// --pac package (C4), without the caller first extracting it to a loose
// file on disk.
func runUnisocFlashPac(cmd *cobra.Command, args []string) error {
	if usPacPath == "" {
		return fmt.Errorf("flash-pac requires --pac")
	}
	ctx := cmd.Context()
	sess, err := connectUnisoc(ctx)
	if err != nil {
		return err
	}

	partition := args[0]
	return runObserved(sess.Events(), "flashing "+partition+" from pac", func() error {
		defer sess.Disconnect()
		data, err := os.ReadFile(usPacPath)
		if err != nil {
			return err
		}
		pkg, err := pac.Parse(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		section, err := pkg.ExtractByID(bytes.NewReader(data), partition)
		if err != nil {
			return err
		}
		isSensitive := rawprogram.IsSensitive(partition)
		return sess.WritePartition(ctx, facade.ByName(partition), uint32(section.Size()), section, isSensitive, usAllowSensitive)
	})
}
