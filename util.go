package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

func fileExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.IsDir()
}

func pathExists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// shellQuote wraps a path in single quotes for safe embedding in a shell
// command. Single quotes inside the path are escaped.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func validateImage(fs afero.Fs, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := validateSafePath(fs, absPath); err != nil {
		return err
	}

	info, err := fs.Stat(absPath)
	if err != nil {
		return fmt.Errorf("file does not exist: %s", absPath)
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory: %s", absPath)
	}

	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", absPath)
	}

	file, err := fs.Open(absPath)
	if err != nil {
		return fmt.Errorf("file not readable: %w", err)
	}
	file.Close()

	return nil
}

func validateSafePath(fs afero.Fs, path string) error {
	// Disallow system directories
	dangerousPaths := []string{
		"/system", "/sys", "/proc", "/dev",
		"/etc", "/bin", "/sbin", "/boot",
		"/root", "/data/system", "/data/data",
	}

	for _, dangerous := range dangerousPaths {
		if strings.HasPrefix(path, dangerous) {
			return fmt.Errorf("cannot mount files from system directory: %s", dangerous)
		}
	}

	// Check if it's a symlink to a dangerous location
	if lfs, ok := fs.(afero.LinkReader); ok {
		if linkTarget, err := lfs.ReadlinkIfPossible(path); err == nil && linkTarget != "" {
			if filepath.IsAbs(linkTarget) {
				return validateSafePath(fs, linkTarget)
			}
			resolved := filepath.Join(filepath.Dir(path), linkTarget)
			return validateSafePath(fs, resolved)
		}
	}

	return nil
}

func readSysFile(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
