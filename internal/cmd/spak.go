package cmd

import (
	"os"
	"path/filepath"

	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/spak"
)

// Category/subcategory conventions a SPAK resource pack is expected to use
// for the two vendor artifacts the CLI needs to pull out of it (spec
// §C.4's Category/Subcategory routing; these string values are this
// tool's own convention, not a value spec.md names).
const (
	spakCategoryQualcomm  = "qualcomm"
	spakSubcategoryLoader = "loader"
	spakCategoryUnisoc    = "unisoc"
	spakSubcategoryPac    = "pac"
)

var spakTempDir string

// extractSpakEntry pulls the first entry matching category/subcategory out
// of the SPAK container at spakPath and materializes it under a
// per-process temp directory, so a caller that expects a file path
// (connectQualcomm, when --spak is given without --loader) can consume a
// SPAK pack without naming the member file directly (spec §C.4).
func extractSpakEntry(spakPath, category, subcategory string) (string, error) {
	data, err := os.ReadFile(spakPath)
	if err != nil {
		return "", err
	}
	pack, err := spak.Open(data)
	if err != nil {
		return "", err
	}
	matches := pack.Lookup(category, subcategory)
	if len(matches) == 0 {
		return "", ferr.New("cmd.extractSpakEntry", ferr.KindPartitionNotFound, category+"/"+subcategory)
	}
	body, err := pack.Extract(matches[0])
	if err != nil {
		return "", err
	}

	if spakTempDir == "" {
		dir, err := os.MkdirTemp("", "flashkit-spak-")
		if err != nil {
			return "", err
		}
		spakTempDir = dir
	}
	outPath := filepath.Join(spakTempDir, matches[0].Name)
	if err := os.WriteFile(outPath, body, 0o600); err != nil {
		return "", err
	}
	return outPath, nil
}

// cleanupSpakTempDir removes the per-process SPAK extraction directory
// (spec §5: temp directories from SPAK extraction "are removed on process
// exit"); a no-op if extractSpakEntry was never called.
func cleanupSpakTempDir() {
	if spakTempDir != "" {
		os.RemoveAll(spakTempDir)
		spakTempDir = ""
	}
}
