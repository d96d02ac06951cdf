// Package config loads the YAML session file that names the FS-UAE
// configuration and arguments to launch, the executable to load debug
// info from, and any breakpoints to set automatically at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session is the on-disk shape of a debugger session file.
type Session struct {
	FSUAEConfig string   `yaml:"fsuae_config"`
	FSUAEArgs   []string `yaml:"fsuae_args"`
	Executable  string   `yaml:"executable"`
	Breakpoints []string `yaml:"breakpoints"`
}

// Load reads and parses a session file at path.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if s.Executable == "" {
		return nil, fmt.Errorf("config: %s: missing executable", path)
	}
	return &s, nil
}

// Args builds the full fs-uae argument list: the config file (if set,
// as fs-uae's positional config argument) followed by any extra args.
func (s *Session) Args() []string {
	var args []string
	if s.FSUAEConfig != "" {
		args = append(args, s.FSUAEConfig)
	}
	args = append(args, s.FSUAEArgs...)
	return args
}
