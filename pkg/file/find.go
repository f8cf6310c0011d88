package file

import (
	"os"
	"path/filepath"
)

// FindUp walks from startDir to the filesystem root and returns the first
// existing file named one of names, checked in order in each directory.
// It returns "" when nothing is found.
func FindUp(startDir string, names ...string) string {
	currentDir := startDir
	for {
		for _, name := range names {
			candidate := filepath.Join(currentDir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return ""
		}
		currentDir = parentDir
	}
}
