package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Provisioner applies a ProvisioningSpec to the host. It holds no state between runs and
// must not be invoked concurrently on the same host.
type Provisioner struct {
	backends  Backends
	lookup    UserLookup
	installer KeyInstaller
	observer  Observer
	logger    zerolog.Logger
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithUserLookup overrides how the created user is resolved before key installation.
func WithUserLookup(l UserLookup) ProvisionerOption {
	return func(p *Provisioner) { p.lookup = l }
}

// WithObserver registers an observer for backend attempts.
func WithObserver(o Observer) ProvisionerOption {
	return func(p *Provisioner) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewProvisioner creates a provisioner over the given backend lists.
func NewProvisioner(backends Backends, installer KeyInstaller, logger zerolog.Logger, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		backends:  backends,
		lookup:    OSUserLookup{},
		installer: installer,
		observer:  Observers(nil),
		logger:    logger.With().Str("component", "provisioner").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision runs user creation, password policy, SSH key installation and hostname, in that
// order. Each pluggable capability tries its backends in order and stops at the first
// success. Partial provisioning is not undone.
func (p *Provisioner) Provision(ctx context.Context, spec *ProvisioningSpec) error {
	p.logger.Info().
		Str("hostname", spec.Hostname).
		Stringer("user", spec.User).
		Msg("Starting provisioning")

	if err := p.attempt(ctx, CapabilityUser, p.backends.User, spec); err != nil {
		return err
	}

	if err := p.attempt(ctx, CapabilityPassword, p.backends.Password, spec); err != nil {
		return err
	}

	if err := p.provisionKeys(ctx, spec); err != nil {
		return err
	}

	if err := p.attempt(ctx, CapabilityHostname, p.backends.Hostname, spec); err != nil {
		return err
	}

	p.logger.Info().Msg("Provisioning completed")
	return nil
}

// attempt walks a backend list until one succeeds.
func (p *Provisioner) attempt(ctx context.Context, capability Capability, backends BackendList, spec *ProvisioningSpec) error {
	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			return NewUnhandledError("provisioning cancelled", err)
		}

		start := time.Now()
		err := b.Attempt(ctx, spec)
		p.observer.BackendAttempt(capability, b.Name(), time.Since(start), err)

		if err == nil {
			p.logger.Info().
				Str("capability", string(capability)).
				Str("backend", b.Name()).
				Msg("Backend succeeded")
			return nil
		}

		// Falling through to the next backend is normal operation.
		p.logger.Info().
			Err(err).
			Str("capability", string(capability)).
			Str("backend", b.Name()).
			Msg("Backend failed, trying next")
	}

	err := noProvisioner(capability)
	p.logger.Error().Str("capability", string(capability)).Int("backends", len(backends)).Msg(err.Message)
	return err
}

func (p *Provisioner) provisionKeys(ctx context.Context, spec *ProvisioningSpec) error {
	if len(spec.User.SSHKeys) == 0 {
		p.logger.Debug().Msg("No SSH keys to install")
		return nil
	}

	start := time.Now()
	err := p.installKeys(ctx, spec)
	p.observer.BackendAttempt(CapabilitySSH, "authorized_keys", time.Since(start), err)
	if err != nil {
		p.logger.Error().Err(err).Str("user", spec.User.Name).Msg("Failed to install SSH keys")
		return err
	}
	return nil
}

func (p *Provisioner) installKeys(ctx context.Context, spec *ProvisioningSpec) error {
	account, err := p.lookup.Lookup(spec.User.Name)
	if err != nil {
		return err
	}
	if account == nil {
		return NewUserMissingError(spec.User.Name, nil)
	}
	return p.installer.Install(ctx, account, spec.User.SSHKeys)
}
