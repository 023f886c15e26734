package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/config"
	"github.com/openfroyo/vminit/pkg/stores"
	"github.com/openfroyo/vminit/pkg/telemetry"
)

// runtime is the configuration and telemetry shared by every command.
type runtime struct {
	cfg *config.Config
	tel *telemetry.Telemetry
}

// loadRuntime merges configuration layers and starts telemetry. Config loading logs to
// stderr until the configured logger exists.
func loadRuntime(ctx context.Context, flags *globalFlags) (*runtime, error) {
	bootstrap := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(telemetry.ParseLevel(flags.logLevel))

	loader := config.NewLoader(bootstrap)
	cfg, err := loader.Load(config.DefaultPaths(flags.configPath))
	if err != nil {
		return nil, err
	}

	if flags.logLevel != "" {
		cfg.Telemetry.Logging.Level = flags.logLevel
	}
	cfg.Telemetry.ServiceVersion = flags.version

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return &runtime{cfg: cfg, tel: tel}, nil
}

func (r *runtime) logger(component string) zerolog.Logger {
	return r.tel.Logger.Component(component)
}

// close flushes telemetry. Failures are logged, never returned.
func (r *runtime) close(ctx context.Context) {
	logger := r.tel.Logger.Zerolog()
	if err := r.tel.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
	}
}

func (r *runtime) identity() *stores.IdentitySource {
	return stores.NewIdentitySource(r.cfg.Identity.UUIDPath, r.cfg.Identity.EFIPaths, r.logger("identity"))
}

func (r *runtime) ledger() *stores.Ledger {
	return stores.NewLedger(r.cfg.DataDir, r.identity(), r.tel.Logger.Zerolog())
}

// journal opens the run journal, or returns nil when it is disabled.
func (r *runtime) journal(ctx context.Context) (*stores.Journal, error) {
	if !r.cfg.Journal.Enabled {
		return nil, nil
	}
	return stores.Open(ctx, stores.JournalConfig{Path: r.cfg.Journal.Path}, r.tel.Logger.Zerolog())
}
