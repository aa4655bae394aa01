// Package config handles tailrec.toml run configuration.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up next to the input.
const FileName = "tailrec.toml"

// Config holds the settings of one optimizer run. Command line flags
// override values loaded from a file.
type Config struct {
	// Output is the path written to. Empty with Overwrite set means the
	// input is replaced.
	Output    string `toml:"output"`
	Overwrite bool   `toml:"overwrite"`

	// Workers bounds how many class files are processed at once.
	Workers int `toml:"workers"`

	// Include and Exclude are path.Match patterns over slash separated
	// entry names. Entries that are not selected are copied verbatim.
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`

	Log Log `toml:"log"`

	// Dir is the directory containing the loaded file (set at load time).
	Dir string `toml:"-"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Workers: runtime.NumCPU()}
}

// Load parses a configuration file.
func Load(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", file, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", file, undecoded[0].String())
	}

	c.Dir, err = filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", file, err)
	}
	// Relative paths in the file are relative to the file.
	if c.Output != "" && !filepath.IsAbs(c.Output) {
		c.Output = filepath.Join(c.Dir, c.Output)
	}
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(c.Dir, c.Log.File)
	}
	return c, nil
}

// Find looks for FileName in dir and returns the defaults when there is
// none.
func Find(dir string) (*Config, error) {
	file := filepath.Join(dir, FileName)
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(file)
}

// Validate checks that the configuration describes a runnable job.
func (c *Config) Validate() error {
	if c.Output == "" && !c.Overwrite {
		return fmt.Errorf("either an output path or overwrite is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	for _, p := range append(append([]string(nil), c.Include...), c.Exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("bad pattern %q: %w", p, err)
		}
	}
	return nil
}

// Selected reports whether the entry name should be optimized. With no
// include patterns every class file is selected.
func (c *Config) Selected(name string) bool {
	name = filepath.ToSlash(name)
	if len(c.Include) > 0 && !matchAny(c.Include, name) {
		return false
	}
	return !matchAny(c.Exclude, name)
}

// matchAny matches the full name and its base name, so "Foo*.class"
// selects classes in any package.
func matchAny(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}
