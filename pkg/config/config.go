package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "jsdbg"
	configFile string = "config.yml"
)

// SubstitutePathRule describes a rule for substitution of a runtime path
// or URL prefix with a local path.
type SubstitutePathRule struct {
	// Runtime path or URL prefix will be substituted if it matches `From`.
	From string
	// Local path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// BreakOnLoad selects how breakpoints are set in scripts before they
	// run: "instrument", "regex" or "off".
	BreakOnLoad string `yaml:"break-on-load,omitempty"`

	// CaseInsensitivePaths compares local paths ignoring case.
	CaseInsensitivePaths *bool `yaml:"case-insensitive-paths,omitempty"`

	// SourceMapCacheSize is the number of parsed source maps kept in
	// memory.
	SourceMapCacheSize int `yaml:"source-map-cache-size,omitempty"`

	// ColumnBreakpoints snaps breakpoints to the possible breakpoint
	// locations reported by the runtime.
	ColumnBreakpoints *bool `yaml:"column-breakpoints,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	if err := createConfigPath(); err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a configuration file.
func Read(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	if err := writeDefaultConfig(f); err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the jsdbg debug adapter.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Define sources path substitution rules. Can be used to map the paths or
# URLs the runtime reports to the place the sources live on this machine.
substitute-path:
  # - {from: /app, to: /home/me/src/app}
  # - {from: "http://localhost:8080/", to: /home/me/src/site/}

# How breakpoints are set in scripts before they run: instrument, regex or off.
# break-on-load: instrument

# Compare local paths ignoring case. Defaults to true on Windows and macOS.
# case-insensitive-paths: false

# Number of parsed source maps kept in memory.
# source-map-cache-size: 128

# Snap breakpoints to the nearest statement the runtime can break on.
# column-breakpoints: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("JSDBG_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, file), nil
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, configDir, file), nil
}
