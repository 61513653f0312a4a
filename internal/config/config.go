package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
)

// defaultFileNames are the conventional configuration file names probed
// by Locate, in priority order.
var defaultFileNames = []string{
	"bridges.jsonc",
	"bridges.json",
	"bridges.yaml",
	"bridges.yml",
}

// File is the parsed bridges configuration.
type File struct {
	// Bridges lists the bridges to run. At least one is required.
	Bridges []model.BridgeSpec `json:"bridges" yaml:"bridges"`
}

// Bridge returns the bridge with the given name, or a CLIError with
// ExitBridgeNotFound when no such bridge is configured.
func (f *File) Bridge(name string) (model.BridgeSpec, error) {
	for _, b := range f.Bridges {
		if b.Name == name {
			return b, nil
		}
	}
	return model.BridgeSpec{}, model.NewCLIError(model.ExitBridgeNotFound,
		fmt.Sprintf("bridge %q not found in configuration", name))
}

// Locate searches dir for a bridges configuration file using the
// conventional names and returns the path of the first one that exists.
//
// Returns a CLIError with ExitConfigError when none is found.
func Locate(dir string) (string, error) {
	for _, name := range defaultFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", model.NewCLIError(model.ExitConfigError,
		fmt.Sprintf("no bridges configuration found in %s (looked for %v)", dir, defaultFileNames))
}

// Load reads and parses the configuration file at path. The format is
// chosen by extension: .json/.jsonc are parsed as JSONC (comments and
// trailing commas allowed), .yaml/.yml as YAML.
//
// Returns a CLIError with ExitConfigError if the file is missing,
// unparsable, or fails validation.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("bridges configuration not found at %s", path), err)
		}
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read %s", path), err)
	}

	var file File
	switch ext := filepath.Ext(path); ext {
	case ".json", ".jsonc":
		// jsonc.ToJSON strips comments and trailing commas, producing
		// plain JSON for the standard library parser.
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to parse %s", path), err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError,
				fmt.Sprintf("failed to parse %s", path), err)
		}
	default:
		return nil, model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("unsupported configuration format %q (expected .json, .jsonc, .yaml, or .yml)", ext))
	}

	if err := file.validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("invalid configuration in %s", path), err)
	}

	return &file, nil
}

// validate checks every bridge individually and enforces cross-bridge
// uniqueness of names and listen addresses.
func (f *File) validate() error {
	if len(f.Bridges) == 0 {
		return fmt.Errorf("configuration defines no bridges")
	}

	seenNames := make(map[string]bool, len(f.Bridges))
	// Key: listen address, value: name of the bridge that claimed it.
	seenListen := make(map[string]string, len(f.Bridges))

	for i := range f.Bridges {
		b := f.Bridges[i]
		if err := b.Validate(); err != nil {
			return err
		}
		if seenNames[b.Name] {
			return fmt.Errorf("duplicate bridge name %q", b.Name)
		}
		seenNames[b.Name] = true

		if owner, exists := seenListen[b.ListenAddress]; exists {
			return fmt.Errorf("listen address %s is used by both %q and %q",
				b.ListenAddress, owner, b.Name)
		}
		seenListen[b.ListenAddress] = b.Name
	}
	return nil
}
