package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/config"
	"github.com/flashkit/flashkit/internal/output"
)

var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool
	tuiFlag     bool
	ConfigDir   string
)

// NewRootCmd builds the flashctl command tree (spec §6's facade surface,
// one cobra subcommand tree per vendor plus the shared devices/doctor/config
// commands), mirroring the teacher's NewRootCmd→addXCommands(cmd) wiring.
func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addDevicesCommand(cmd)
	addQualcommCommands(cmd)
	addUnisocCommands(cmd)
	addFastbootCommands(cmd)
	addConfigCommands(cmd)
	addDoctorCommand(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "flashctl",
		Short:         "Multi-vendor mobile device flashing tool",
		Long:          "flashctl — flash, read, and manage Qualcomm, Spreadtrum/Unisoc, and fastboot-mode devices.",
		Version:       fmt.Sprintf("flashctl v%s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(ConfigDir)
			return nil
		},
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.BoolVar(&noColorFlag, "no-color", false, "Disable ANSI colors")
	pflags.BoolVar(&tuiFlag, "tui", false, "Show a live progress bar instead of logging events")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Override config directory (default: ~/.flashkit)")

	if v := os.Getenv("FLASHKIT_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}
	if os.Getenv("NO_COLOR") != "" {
		noColorFlag = true
	}
	if os.Getenv("FLASHKIT_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

func Execute() error {
	defer cleanupSpakTempDir()
	cmd := NewRootCmd()
	return cmd.Execute()
}
