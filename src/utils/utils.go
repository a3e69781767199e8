package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot walks up from this source file until it hits the directory
// containing go.mod. Used by tests that need repo-relative paths (migrations,
// .env) regardless of the package they run from.
func FindProjectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("could not determine caller source location")
	}

	dir := filepath.Dir(filename)
	for dir != filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	panic("could not find project root: no go.mod above " + filepath.Dir(filename))
}
