package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/flashkit/flashkit/internal/config"
	"github.com/flashkit/flashkit/internal/devicewatch"
	"github.com/flashkit/flashkit/internal/output"
)

func addDoctorCommand(parent *cobra.Command) {
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment health",
		Long:  "Run diagnostic checks across config, loader/FDL search paths, disk space, and attached devices.",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	parent.AddCommand(doctorCmd)
}

// CheckResult holds the result of a single doctor check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warning", "error"
	Detail string `json:"detail"`
}

// DoctorReport holds the complete doctor output.
type DoctorReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Testable check functions — replaceable in unit tests.
var (
	ConfigChecker     = checkConfig
	LoaderPathChecker = checkLoaderPath
	DiskSpaceChecker  = checkDiskSpace
	DevicesChecker    = checkDevices
)

func runDoctor(cmd *cobra.Command, args []string) error {
	home := config.FlashkitHome()

	checks := []CheckResult{
		ConfigChecker(),
		LoaderPathChecker(),
		DiskSpaceChecker(home),
		DevicesChecker(),
	}

	healthy := true
	for _, c := range checks {
		if c.Status == "error" {
			healthy = false
			break
		}
	}

	report := DoctorReport{Healthy: healthy, Checks: checks}

	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), report)
	}

	if output.IsQuiet() && healthy {
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "flashctl doctor")
	fmt.Fprintln(cmd.OutOrStdout())

	var warnings, errors int
	for _, c := range checks {
		symbol := "✓"
		switch c.Status {
		case "warning":
			symbol = "⚠"
			warnings++
		case "error":
			symbol = "✗"
			errors++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %-12s %s\n", symbol, c.Name, c.Detail)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	if errors > 0 {
		var parts []string
		parts = append(parts, pluralize(errors, "error"))
		if warnings > 0 {
			parts = append(parts, pluralize(warnings, "warning"))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Problems found (%s).\n", strings.Join(parts, ", "))
	} else if warnings > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Everything looks good (%s).\n", pluralize(warnings, "warning"))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Everything looks good.")
	}

	return nil
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func checkConfig() CheckResult {
	if err := config.EnsureDir(); err != nil {
		return CheckResult{Name: "Config", Status: "error", Detail: err.Error()}
	}
	return CheckResult{Name: "Config", Status: "ok", Detail: config.ConfigPath()}
}

func checkLoaderPath() CheckResult {
	path, err := config.ResolveLoaderPath("")
	if err != nil {
		return CheckResult{Name: "Loader path", Status: "warning", Detail: err.Error()}
	}
	if _, err := os.Stat(path); err != nil {
		return CheckResult{Name: "Loader path", Status: "warning", Detail: fmt.Sprintf("%s (not found)", path)}
	}
	return CheckResult{Name: "Loader path", Status: "ok", Detail: path}
}

func checkDiskSpace(home string) CheckResult {
	var stat unix.Statfs_t
	target := home
	if _, err := os.Stat(target); err != nil {
		target = filepath.Dir(target)
	}
	if err := unix.Statfs(target, &stat); err != nil {
		return CheckResult{Name: "Disk", Status: "warning", Detail: fmt.Sprintf("could not check: %s", err)}
	}

	freeBytes := stat.Bavail * uint64(stat.Bsize)
	freeGB := float64(freeBytes) / (1024 * 1024 * 1024)

	status := "ok"
	if freeGB < 1.0 {
		status = "warning"
	}

	return CheckResult{Name: "Disk", Status: status, Detail: fmt.Sprintf("%.1f GB free in %s", freeGB, shortenHome(home))}
}

func checkDevices() CheckResult {
	devices, err := devicewatch.ListDevices()
	if err != nil {
		return CheckResult{Name: "Devices", Status: "warning", Detail: err.Error()}
	}
	if len(devices) == 0 {
		return CheckResult{Name: "Devices", Status: "warning", Detail: "none attached"}
	}
	return CheckResult{Name: "Devices", Status: "ok", Detail: fmt.Sprintf("%d attached", len(devices))}
}

func shortenHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
