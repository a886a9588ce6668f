// Package config holds the plain-struct settings for a standalone
// typedb process: where the bbolt file lives and how verbose the
// standard logger should be. This module only ever has one file and one
// process, so a flat struct plus defaults covers it without pulling in
// a config-file library.
package config

import "path/filepath"

// Config is the full set of settings a typedb process needs at startup.
type Config struct {
	// DataDir is the directory holding the bbolt file and any future
	// sidecar files (lock file, etc). The bbolt file itself is
	// DataDir/typedb.db.
	DataDir string `json:"data-dir"`

	// Verbose switches the standard logger from Info to Debug level.
	Verbose bool `json:"verbose"`
}

// NewDefaultConfig returns a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir: "./typedb-data",
		Verbose: false,
	}
}

// DBPath returns the path to the bbolt file under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "typedb.db")
}
