package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the audiobookd home directory.
	DefaultDirName = ".audiobookd"

	// ObjectsDirName is the subdirectory holding chapter and audiobook objects.
	ObjectsDirName = "objects"

	// ScratchDirName is the subdirectory for transcode scratch workspaces.
	ScratchDirName = "scratch"

	// RecordsDirName is the subdirectory holding book metadata records when
	// the filesystem record store is in use.
	RecordsDirName = "records"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the audiobookd home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.audiobookd).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ObjectsPath returns the root directory for stored audio objects.
func (d *Dir) ObjectsPath() string {
	return filepath.Join(d.path, ObjectsDirName)
}

// ScratchPath returns the root directory for transcode scratch workspaces.
// Each transcode invocation creates (and removes) a unique subdirectory here.
func (d *Dir) ScratchPath() string {
	return filepath.Join(d.path, ScratchDirName)
}

// RecordsPath returns the root directory for book metadata records.
func (d *Dir) RecordsPath() string {
	return filepath.Join(d.path, RecordsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ObjectsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create objects directory: %w", err)
	}
	if err := os.MkdirAll(d.ScratchPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if err := os.MkdirAll(d.RecordsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
