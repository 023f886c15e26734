package stores

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// DefaultLedgerDir holds the provisioning markers.
const DefaultLedgerDir = "/var/lib/vminit"

// MarkerSuffix is appended to the VM identity to name a marker file.
const MarkerSuffix = ".provisioned"

// Ledger records which VM identities have completed provisioning. It touches host-global
// state and must not be used by more than one agent at a time.
type Ledger struct {
	dir      string
	identity IdentityDeriver
	logger   zerolog.Logger
}

// NewLedger creates a ledger in dir keyed by the given identity.
func NewLedger(dir string, identity IdentityDeriver, logger zerolog.Logger) *Ledger {
	if dir == "" {
		dir = DefaultLedgerDir
	}
	return &Ledger{
		dir:      dir,
		identity: identity,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// Dir returns the ledger directory.
func (l *Ledger) Dir() string {
	return l.dir
}

// Identity returns the current VM identity.
func (l *Ledger) Identity() (string, bool) {
	return l.identity.Derive()
}

// MarkerPath returns the marker file for id.
func (l *Ledger) MarkerPath(id string) string {
	return filepath.Join(l.dir, id+MarkerSuffix)
}

// IsComplete reports whether provisioning already completed for the current identity.
// Without an identity it always reports false.
func (l *Ledger) IsComplete() bool {
	id, ok := l.identity.Derive()
	if !ok {
		l.logger.Info().Msg("No VM identity available, provisioning required")
		return false
	}

	path := l.MarkerPath(id)
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn().Err(err).Str("path", path).Msg("Unable to stat provisioning marker")
		}
		l.logger.Info().Str("vm_id", id).Msg("Provisioning required")
		return false
	}

	l.logger.Info().Str("vm_id", id).Msg("Provisioning already complete")
	return true
}

// MarkComplete writes the marker for the current identity. Call it only after a fully
// successful provisioning run. Without an identity nothing is written.
func (l *Ledger) MarkComplete() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return engine.NewIOError("unable to create ledger directory "+l.dir, err)
	}

	id, ok := l.identity.Derive()
	if !ok {
		l.logger.Warn().Msg("No VM identity available, not writing provisioning marker")
		return nil
	}

	path := l.MarkerPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		l.logger.Error().Err(err).Str("path", path).Msg("Failed to create provisioning marker")
		return engine.NewIOError("unable to create provisioning marker "+path, err)
	}
	if err := f.Close(); err != nil {
		return engine.NewIOError("unable to close provisioning marker "+path, err)
	}

	l.logger.Info().Str("path", path).Msg("Provisioning complete, marker created")
	return nil
}

// Clean removes every marker in the ledger directory and returns how many were removed.
func (l *Ledger) Clean() (int, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*"+MarkerSuffix))
	if err != nil {
		return 0, engine.NewIOError("unable to list provisioning markers", err)
	}

	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, engine.NewIOError("unable to remove provisioning marker "+m, err)
		}
		removed++
	}

	l.logger.Info().Int("removed", removed).Msg("Cleaned provisioning markers")
	return removed, nil
}
