package linux

import (
	"context"
	"os"

	"github.com/openfroyo/vminit/pkg/engine"
)

// DefaultHostnameFile is rewritten by the hostname backend.
const DefaultHostnameFile = "/etc/hostname"

// Hostnamectl sets the hostname through systemd.
type Hostnamectl struct {
	runner Runner
}

// NewHostnamectl creates a hostnamectl backend.
func NewHostnamectl(runner Runner) *Hostnamectl {
	return &Hostnamectl{runner: runner}
}

// Name implements engine.Backend.
func (h *Hostnamectl) Name() string { return KindHostnamectl }

// Attempt implements engine.Backend.
func (h *Hostnamectl) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	_, err := h.runner.Run(ctx, Command{Name: "hostnamectl", Args: []string{"set-hostname", spec.Hostname}})
	return err
}

// Hostname sets the transient hostname with hostname(1) and persists it to the hostname
// file, for hosts without systemd.
type Hostname struct {
	runner Runner
	file   string
}

// NewHostname creates a hostname backend persisting to file.
func NewHostname(runner Runner, file string) *Hostname {
	if file == "" {
		file = DefaultHostnameFile
	}
	return &Hostname{runner: runner, file: file}
}

// Name implements engine.Backend.
func (h *Hostname) Name() string { return KindHostname }

// Attempt implements engine.Backend.
func (h *Hostname) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	if _, err := h.runner.Run(ctx, Command{Name: "hostname", Args: []string{spec.Hostname}}); err != nil {
		return err
	}
	if err := os.WriteFile(h.file, []byte(spec.Hostname+"\n"), 0o644); err != nil {
		return engine.NewIOError("unable to write "+h.file, err)
	}
	return nil
}
