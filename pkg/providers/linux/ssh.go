package linux

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/vminit/pkg/engine"
)

// DefaultAuthorizedKeysFile is used when neither configuration nor sshd names one.
const DefaultAuthorizedKeysFile = ".ssh/authorized_keys"

// KeyInstallerOptions configures a KeyInstaller.
type KeyInstallerOptions struct {
	Runner Runner

	// AuthorizedKeysPath overrides where keys are written. Relative paths are resolved
	// against the user's home; %h, %u and %% are expanded.
	AuthorizedKeysPath string

	// QuerySSHD asks `sshd -G` for authorizedkeysfile when no path is configured.
	QuerySSHD bool

	Logger zerolog.Logger
}

// KeyInstaller writes a user's authorized_keys file.
type KeyInstaller struct {
	runner    Runner
	path      string
	querySSHD bool
	logger    zerolog.Logger
}

// NewKeyInstaller creates a key installer.
func NewKeyInstaller(opts KeyInstallerOptions) *KeyInstaller {
	return &KeyInstaller{
		runner:    opts.Runner,
		path:      opts.AuthorizedKeysPath,
		querySSHD: opts.QuerySSHD,
		logger:    opts.Logger.With().Str("component", "ssh").Logger(),
	}
}

// Install implements engine.KeyInstaller. Every key must parse as an authorized_keys
// line before anything is written. The file is replaced, not appended to.
func (k *KeyInstaller) Install(ctx context.Context, account *engine.Account, keys []engine.PublicKey) error {
	for i, key := range keys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key.KeyData)); err != nil {
			return engine.NewDeserializeError(fmt.Sprintf("public key %d for %s is not a valid authorized key", i, account.Name), err)
		}
	}

	sshDir := filepath.Join(account.HomeDir, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return engine.NewIOError("unable to create "+sshDir, err)
	}
	if err := os.Chown(sshDir, account.UID, account.GID); err != nil {
		return engine.NewIOError("unable to chown "+sshDir, err)
	}
	// The directory may predate us, created along with the home directory.
	if err := os.Chmod(sshDir, 0o700); err != nil {
		return engine.NewIOError("unable to chmod "+sshDir, err)
	}

	path := k.authorizedKeysPath(ctx, account)
	k.logger.Info().Str("path", path).Int("keys", len(keys)).Msg("Using authorized_keys path")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return engine.NewIOError("unable to create "+filepath.Dir(path), err)
	}

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(strings.TrimSpace(key.KeyData))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return engine.NewIOError("unable to write "+path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return engine.NewIOError("unable to chmod "+path, err)
	}
	if err := os.Chown(path, account.UID, account.GID); err != nil {
		return engine.NewIOError("unable to chown "+path, err)
	}
	return nil
}

func (k *KeyInstaller) authorizedKeysPath(ctx context.Context, account *engine.Account) string {
	pattern := k.path
	if pattern == "" && k.querySSHD {
		pattern = k.sshdAuthorizedKeysFile(ctx)
	}
	if pattern == "" {
		pattern = DefaultAuthorizedKeysFile
	}

	path := ExpandTokens(pattern, account)
	if !filepath.IsAbs(path) {
		path = filepath.Join(account.HomeDir, path)
	}
	return path
}

// sshdAuthorizedKeysFile returns the first authorizedkeysfile entry from `sshd -G`, or ""
// when sshd is unavailable or reports none.
func (k *KeyInstaller) sshdAuthorizedKeysFile(ctx context.Context) string {
	res, err := k.runner.Run(ctx, Command{Name: "sshd", Args: []string{"-G"}})
	if err != nil {
		k.logger.Error().Err(err).Msg("Failed to execute sshd -G, assuming sshd configuration defaults")
		return ""
	}

	path := ParseAuthorizedKeysFile(res.Stdout)
	if path == "" {
		k.logger.Error().Msg("No authorizedkeysfile setting found in sshd configuration")
	}
	return path
}

// ParseAuthorizedKeysFile extracts the first authorizedkeysfile path from `sshd -G` output.
func ParseAuthorizedKeysFile(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && strings.EqualFold(fields[0], "authorizedkeysfile") {
			return fields[1]
		}
	}
	return ""
}

// ExpandTokens expands the sshd_config tokens %h (home), %u (user), %U (uid) and %%.
func ExpandTokens(pattern string, account *engine.Account) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 == len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case 'h':
			b.WriteString(account.HomeDir)
		case 'u':
			b.WriteString(account.Name)
		case 'U':
			b.WriteString(strconv.Itoa(account.UID))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}
