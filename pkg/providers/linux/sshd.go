package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Default sshd configuration locations.
const (
	DefaultSSHDConfig    = "/etc/ssh/sshd_config"
	DefaultSSHDDropInDir = "/etc/ssh/sshd_config.d"
	DropInFileName       = "50-vminit.conf"
)

var passwordAuthRe = regexp.MustCompile(`(?m)^[ \t]*#?[ \t]*PasswordAuthentication[ \t]+(yes|no)[ \t]*$`)

// SSHDConfigurer manages the PasswordAuthentication directive.
type SSHDConfigurer struct {
	mainConfig string
	dropInDir  string
	logger     zerolog.Logger
}

// NewSSHDConfigurer creates a configurer. Empty paths select the defaults.
func NewSSHDConfigurer(mainConfig, dropInDir string, logger zerolog.Logger) *SSHDConfigurer {
	if mainConfig == "" {
		mainConfig = DefaultSSHDConfig
	}
	if dropInDir == "" {
		dropInDir = DefaultSSHDDropInDir
	}
	return &SSHDConfigurer{
		mainConfig: mainConfig,
		dropInDir:  dropInDir,
		logger:     logger.With().Str("component", "sshd").Logger(),
	}
}

// Path returns the file SetPasswordAuthentication will write: the vminit drop-in when the
// drop-in directory exists, the main sshd_config otherwise.
func (s *SSHDConfigurer) Path() string {
	if info, err := os.Stat(s.dropInDir); err == nil && info.IsDir() {
		return filepath.Join(s.dropInDir, DropInFileName)
	}
	return s.mainConfig
}

// SetPasswordAuthentication writes PasswordAuthentication yes|no. In the main config every
// existing directive, commented or not, is replaced; without one the directive is appended.
func (s *SSHDConfigurer) SetPasswordAuthentication(enabled bool) error {
	value := "no"
	if enabled {
		value = "yes"
	}
	line := "PasswordAuthentication " + value

	path := s.Path()
	if path != s.mainConfig {
		if err := os.WriteFile(path, []byte(line+"\n"), 0o644); err != nil {
			return engine.NewIOError("unable to write "+path, err)
		}
		s.logger.Info().Str("path", path).Bool("enabled", enabled).Msg("Configured sshd password authentication")
		return nil
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		content = nil
	} else if err != nil {
		return engine.NewIOError("unable to read "+path, err)
	}

	var updated []byte
	if passwordAuthRe.Match(content) {
		updated = passwordAuthRe.ReplaceAll(content, []byte(line))
	} else {
		updated = content
		if len(updated) > 0 && updated[len(updated)-1] != '\n' {
			updated = append(updated, '\n')
		}
		updated = append(updated, []byte(line+"\n")...)
	}

	if err := writeFileAtomic(path, updated, 0o644); err != nil {
		return engine.NewIOError("unable to write "+path, err)
	}
	s.logger.Info().Str("path", path).Bool("enabled", enabled).Msg("Configured sshd password authentication")
	return nil
}

// writeFileAtomic replaces path through a temporary file in the same directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
