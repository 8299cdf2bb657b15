package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/config"
	"github.com/flashkit/flashkit/internal/facade"
	"github.com/flashkit/flashkit/internal/firehose"
	"github.com/flashkit/flashkit/internal/output"
	"github.com/flashkit/flashkit/internal/rawprogram"
	"github.com/flashkit/flashkit/internal/transport"
)

var (
	qcPort       string
	qcLoader     string
	qcStorage    string
	qcLUN        int
	qcSectorSize uint32
	qcLastLBA    uint64
	qcAllowSensitive bool
	qcSpakPath   string
)

func addQualcommCommands(parent *cobra.Command) {
	qc := &cobra.Command{
		Use:   "qualcomm",
		Short: "Operate a Qualcomm device over Sahara/Firehose",
	}
	qc.PersistentFlags().StringVar(&qcPort, "port", "", "Serial/USB port (required)")
	qc.PersistentFlags().StringVar(&qcLoader, "loader", "", "Path to the Firehose programmer image")
	qc.PersistentFlags().StringVar(&qcSpakPath, "spak", "", "Path to a SPAK resource pack to pull the Firehose loader from, when --loader is omitted")
	qc.PersistentFlags().StringVar(&qcStorage, "storage", "ufs", "Target storage class: ufs|emmc")
	qc.PersistentFlags().IntVar(&qcLUN, "lun", 0, "Logical unit to operate on")
	qc.PersistentFlags().Uint32Var(&qcSectorSize, "sector-size", 4096, "Sector size in bytes")
	qc.PersistentFlags().Uint64Var(&qcLastLBA, "last-lba", 0, "Last addressable LBA on the LUN")
	qc.PersistentFlags().BoolVar(&qcAllowSensitive, "allow-sensitive", false, "Permit writes to sensitive-named partitions")
	qc.MarkPersistentFlagRequired("port")

	qc.AddCommand(&cobra.Command{
		Use:   "read-table",
		Short: "Read and print the GPT partition table",
		Args:  cobra.NoArgs,
		RunE:  runQualcommReadTable,
	})
	read := &cobra.Command{
		Use:   "read <partition> <output-file>",
		Short: "Read a partition to a local file",
		Args:  cobra.ExactArgs(2),
		RunE:  runQualcommRead,
	}
	qc.AddCommand(read)
	write := &cobra.Command{
		Use:   "write <partition> <input-file>",
		Short: "Write a local file to a partition",
		Args:  cobra.ExactArgs(2),
		RunE:  runQualcommWrite,
	}
	write.Flags().Bool("sparse", false, "Input is an Android sparse image")
	qc.AddCommand(write)
	qc.AddCommand(&cobra.Command{
		Use:   "erase <partition>",
		Short: "Erase a partition",
		Args:  cobra.ExactArgs(1),
		RunE:  runQualcommErase,
	})
	slot := &cobra.Command{
		Use:   "set-active-slot <slot>",
		Short: "Switch the active A/B slot",
		Args:  cobra.ExactArgs(1),
		RunE:  runQualcommSetSlot,
	}
	qc.AddCommand(slot)
	reboot := &cobra.Command{
		Use:   "reboot [mode]",
		Short: "Reboot the device (normal|bootloader|recovery|edl)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runQualcommReboot,
	}
	qc.AddCommand(reboot)
	qc.AddCommand(&cobra.Command{
		Use:   "flash-rawprogram <directory>",
		Short: "Flash every program/patch task in a rawprogram*.xml + patch*.xml directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runQualcommFlashRawprogram,
	})

	parent.AddCommand(qc)
}

func connectQualcomm(ctx context.Context) (*facade.QualcommSession, error) {
	loader := qcLoader
	if loader == "" && qcSpakPath != "" {
		path, err := extractSpakEntry(qcSpakPath, spakCategoryQualcomm, spakSubcategoryLoader)
		if err != nil {
			return nil, err
		}
		loader = path
	}
	if loader == "" {
		path, err := config.ResolveLoaderPath("")
		if err != nil {
			return nil, err
		}
		loader = path
	}

	ch, err := transport.OpenSerial(qcPort, 115200)
	if err != nil {
		return nil, err
	}

	storage := firehose.StorageUFS
	if qcStorage == "emmc" {
		storage = firehose.StorageEMMC
	}

	return facade.ConnectQualcomm(ctx, ch, facade.QualcommOptions{
		LoaderPath: loader,
		Storage:    storage,
	})
}

func runQualcommReadTable(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
	if err != nil {
		return err
	}

	var table []facade.Partition
	err = runObserved(sess.Events(), "reading partition table", func() error {
		defer sess.Disconnect()
		var err error
		table, err = sess.ReadPartitionTable(ctx, qcLUN, qcSectorSize, qcLastLBA)
		return err
	})
	if err != nil {
		return err
	}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), table)
	}
	for _, p := range table {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s lun=%d start=%d sectors=%d\n", p.Name, p.LUN, p.StartSector, p.NumSectors)
	}
	return nil
}

func runQualcommRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
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

func runQualcommWrite(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
	if err != nil {
		return err
	}

	sparse, _ := cmd.Flags().GetBool("sparse")
	return runObserved(sess.Events(), "writing "+args[0], func() error {
		defer sess.Disconnect()
		in, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer in.Close()
		isSensitive := rawprogram.IsSensitive(args[0])
		return sess.WritePartition(ctx, facade.ByName(args[0]), in, sparse, isSensitive, qcAllowSensitive)
	})
}

func runQualcommErase(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
	if err != nil {
		return err
	}
	return runObserved(sess.Events(), "erasing "+args[0], func() error {
		defer sess.Disconnect()
		return sess.ErasePartition(ctx, facade.ByName(args[0]))
	})
}

func runQualcommSetSlot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
	if err != nil {
		return err
	}
	defer sess.Disconnect()
	return sess.SetActiveSlot(ctx, args[0])
}

func runQualcommReboot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
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

// loadRawprogramDir parses every rawprogram*.xml/patch*.xml descriptor in
// dir (a vendor firmware drop typically carries one of each per LUN) and
// concatenates their tasks/patches into the single batch
// WriteFromRawprogram expects.
func loadRawprogramDir(dir string) ([]rawprogram.Task, []rawprogram.Patch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var tasks []rawprogram.Task
	var patches []rawprogram.Patch
	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		isRawprogram := strings.HasSuffix(lower, ".xml") &&
			(strings.HasPrefix(lower, "rawprogram") || strings.HasPrefix(lower, "patch"))
		if e.IsDir() || !isRawprogram {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		t, p, err := rawprogram.Parse(f, dir)
		f.Close()
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, t...)
		patches = append(patches, p...)
	}
	return tasks, patches, nil
}

func runQualcommFlashRawprogram(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sess, err := connectQualcomm(ctx)
	if err != nil {
		return err
	}

	return runObserved(sess.Events(), "flashing rawprogram from "+args[0], func() error {
		defer sess.Disconnect()
		tasks, patches, err := loadRawprogramDir(args[0])
		if err != nil {
			return err
		}
		outcomes := sess.WriteFromRawprogram(ctx, tasks, patches, qcAllowSensitive)
		var firstErr error
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", o.Selector.Name, o.Err)
				if firstErr == nil {
					firstErr = o.Err
				}
			}
		}
		return firstErr
	})
}
