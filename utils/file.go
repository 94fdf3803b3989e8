package utils

import (
	"os"
	"path/filepath"
)

// EnsureImportDir creates the local spool directory uploaded reconciliation
// files are staged in before parsing.
func EnsureImportDir() error {
	return os.MkdirAll("imports", os.ModePerm)
}

// GetImportPath returns the full path for a file inside the import spool.
func GetImportPath(filename string) string {
	return filepath.Join("imports", filename)
}
