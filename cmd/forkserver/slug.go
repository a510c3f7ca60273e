package main

import (
	"path/filepath"
	"strings"
)

// slugFromPath is the file name without extension
func slugFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
