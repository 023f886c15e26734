package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/vminit/pkg/agent"
	"github.com/openfroyo/vminit/pkg/config"
	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/imds"
	"github.com/openfroyo/vminit/pkg/policy"
	"github.com/openfroyo/vminit/pkg/providers/linux"
	"github.com/openfroyo/vminit/pkg/transports/retryhttp"
	"github.com/openfroyo/vminit/pkg/wireserver"
)

func newProvisionCommand(flags *globalFlags) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision this VM from the control plane",
		Long: `Provision this VM unless it has already been provisioned.

The run fetches and acknowledges the goalstate, queries instance metadata,
checks the result against policy, applies it through the configured backends
and reports the outcome. Failures are reported as NotReady and leave no marker,
so the next boot tries again.`,
		Example: `  # Provision with the configured groups
  vminit provision

  # Add the admin user to adm and sudo instead
  vminit provision --groups adm,sudo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), flags, groups)
		},
	}

	cmd.Flags().StringSliceVarP(&groups, "groups", "g", nil, "supplementary groups for the provisioned user")

	return cmd
}

func runProvision(ctx context.Context, flags *globalFlags, groups []string) error {
	rt, err := loadRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer rt.close(context.WithoutCancel(ctx))

	a, cleanup, err := buildAgent(ctx, rt, groups)
	if err != nil {
		return err
	}
	defer cleanup()

	return a.Run(ctx)
}

// newPolicyEngine builds the policy engine with custom policies loaded and the configured
// ones switched off.
func newPolicyEngine(ctx context.Context, cfg config.PolicyConfig, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(ctx, policy.Options{
		AllowPassword: cfg.AllowPassword,
		ReservedUsers: cfg.ReservedUsers,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := pe.LoadPolicies(ctx, cfg.Paths); err != nil {
		return nil, err
	}
	for _, name := range cfg.Disabled {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("invalid policy.disabled entry: %w", err)
		}
	}

	var enabled []string
	for _, p := range pe.ListPolicies() {
		if p.Enabled {
			enabled = append(enabled, p.Name)
		}
	}
	logger.Debug().Strs("policies", enabled).Msg("Policy engine ready")
	return pe, nil
}

// buildAgent wires the agent from configuration. cleanup releases the journal.
func buildAgent(ctx context.Context, rt *runtime, groups []string) (*agent.Agent, func(), error) {
	cfg := rt.cfg
	tel := rt.tel
	logger := tel.Logger.Zerolog()

	executor := func(service string, endpoint config.EndpointConfig) *retryhttp.Executor {
		return retryhttp.New(service, logger,
			retryhttp.WithConnectTimeout(endpoint.ConnectionTimeout),
			retryhttp.WithObserver(tel.Metrics),
			retryhttp.WithTracer(tel.Tracer.Tracer()),
		)
	}

	ws := wireserver.NewClient(wireserver.Config{
		GoalstateURL: cfg.Wireserver.Endpoint,
		HealthURL:    cfg.Wireserver.HealthEndpoint,
		Budget:       cfg.Wireserver.Budget(),
	}, executor("wireserver", cfg.Wireserver.EndpointConfig), logger)

	reporter := wireserver.NewReporter(wireserver.ReporterConfig{
		URL:    cfg.Health.Endpoint,
		Budget: cfg.Health.Budget(),
	}, executor("health", cfg.Health), logger)

	metadata := imds.NewClient(imds.Config{
		URL:    cfg.IMDS.Endpoint,
		Budget: cfg.IMDS.Budget(),
	}, executor("imds", cfg.IMDS), logger)

	runner := linux.NewExecRunner(logger)
	backends, err := linux.NewRegistry(linux.RegistryOptions{
		Runner:        runner,
		AllowPassword: cfg.Policy.AllowPassword,
		UseraddTries:  cfg.Useradd.Retries,
		UseraddDelay:  cfg.Useradd.Delay,
		HostnameFile:  cfg.HostnameFile,
		Logger:        logger,
	}).Backends(cfg.UserProvisioners, cfg.PasswordProvisioners, cfg.HostnameProvisioners)
	if err != nil {
		return nil, nil, err
	}

	deps := agent.Deps{
		Ledger:     rt.ledger(),
		Wireserver: ws,
		Reporter:   reporter,
		Metadata:   metadata,
		Backends:   backends,
		KeyInstaller: linux.NewKeyInstaller(linux.KeyInstallerOptions{
			Runner:             runner,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			QuerySSHD:          cfg.SSH.QuerySSHDConfig,
			Logger:             logger,
		}),
		UserLookup: engine.OSUserLookup{},
		Facts:      engine.NewFactsCollector("", "", logger),
		Metrics:    tel.Metrics,
		Tracer:     tel.Tracer.Tracer(),
	}

	if cfg.Policy.Enabled {
		pe, err := newPolicyEngine(ctx, cfg.Policy, logger)
		if err != nil {
			return nil, nil, err
		}
		deps.Policy = pe
	}

	if cfg.SSH.ManagePasswordAuthentication {
		deps.SSHD = linux.NewSSHDConfigurer(cfg.SSH.SSHDConfigPath, cfg.SSH.SSHDDropInDir, logger)
	}

	cleanup := func() {}
	journal, err := rt.journal(ctx)
	if err != nil {
		// History is optional; provisioning goes ahead without it.
		logger.Warn().Err(err).Msg("Run journal unavailable")
	} else if journal != nil {
		deps.Journal = journal
		cleanup = func() {
			if err := journal.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close run journal")
			}
		}
	}

	if len(groups) == 0 {
		groups = cfg.Groups
	}
	return agent.New(deps, agent.Options{Groups: groups}, logger), cleanup, nil
}
