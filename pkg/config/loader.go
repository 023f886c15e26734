package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Default file locations.
const (
	DefaultBasePath  = "/etc/vminit.yaml"
	DefaultDropInDir = "/etc/vminit.d"
)

// Paths names the configuration layers, applied in order: Base, every *.yaml in
// DropInDir in lexical order, then Explicit (a file or a directory of *.yaml files).
type Paths struct {
	Base      string
	DropInDir string
	Explicit  string
}

// DefaultPaths returns the standard layers plus an optional explicit file.
func DefaultPaths(explicit string) Paths {
	return Paths{Base: DefaultBasePath, DropInDir: DefaultDropInDir, Explicit: explicit}
}

// Loader merges configuration layers over the defaults.
type Loader struct {
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		validate: validator.New(),
		logger:   logger.With().Str("component", "config").Logger(),
	}
}

// Load reads every layer and validates the result. A missing base file or drop-in
// directory is skipped; a missing explicit path is an error.
func (l *Loader) Load(paths Paths) (*Config, error) {
	cfg := Default()

	if paths.Base != "" {
		if err := l.mergeFile(cfg, paths.Base, false); err != nil {
			return nil, err
		}
	}
	if paths.DropInDir != "" {
		if err := l.mergeDir(cfg, paths.DropInDir, false); err != nil {
			return nil, err
		}
	}
	if paths.Explicit != "" {
		info, err := os.Stat(paths.Explicit)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration %s: %w", paths.Explicit, err)
		}
		if info.IsDir() {
			err = l.mergeDir(cfg, paths.Explicit, true)
		} else {
			err = l.mergeFile(cfg, paths.Explicit, true)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	l.logger.Debug().Msg("Configuration successfully loaded")
	return cfg, nil
}

// Validate checks a merged configuration.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// mergeFile overlays one YAML document onto cfg. Keys absent from the file keep their
// current values; lists are replaced, not appended.
func (l *Loader) mergeFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		l.logger.Debug().Str("path", path).Msg("Configuration file not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	l.logger.Info().Str("path", path).Msg("Merging configuration file")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}
	return nil
}

func (l *Loader) mergeDir(cfg *Config, dir string, required bool) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) && !required {
		l.logger.Debug().Str("path", dir).Msg("Configuration directory not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read configuration directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		if err := l.mergeFile(cfg, f, true); err != nil {
			return err
		}
	}
	return nil
}
