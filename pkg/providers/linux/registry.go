package linux

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Backend kinds accepted in configuration.
const (
	KindUseradd     = "useradd"
	KindAdduser     = "adduser"
	KindPasswd      = "passwd"
	KindUsermod     = "usermod"
	KindHostnamectl = "hostnamectl"
	KindHostname    = "hostname"
)

// Default fallback orders.
var (
	DefaultUserBackends     = []string{KindUseradd}
	DefaultPasswordBackends = []string{KindPasswd}
	DefaultHostnameBackends = []string{KindHostnamectl}
)

// RegistryOptions carries what backends need beyond their kind.
type RegistryOptions struct {
	Runner        Runner
	AllowPassword bool
	UseraddTries  int
	UseraddDelay  time.Duration
	HostnameFile  string
	Logger        zerolog.Logger
}

// Registry builds ordered backend lists from configured kinds.
type Registry struct {
	opts RegistryOptions
}

// NewRegistry creates a registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{opts: opts}
}

// Backends resolves the three fallback lists. Empty lists select the defaults; an unknown
// kind, or a kind listed under the wrong capability, is an error.
func (r *Registry) Backends(user, password, hostname []string) (engine.Backends, error) {
	var out engine.Backends
	var err error

	if out.User, err = r.build(engine.CapabilityUser, orDefault(user, DefaultUserBackends)); err != nil {
		return engine.Backends{}, err
	}
	if out.Password, err = r.build(engine.CapabilityPassword, orDefault(password, DefaultPasswordBackends)); err != nil {
		return engine.Backends{}, err
	}
	if out.Hostname, err = r.build(engine.CapabilityHostname, orDefault(hostname, DefaultHostnameBackends)); err != nil {
		return engine.Backends{}, err
	}
	return out, nil
}

func (r *Registry) build(capability engine.Capability, kinds []string) (engine.BackendList, error) {
	list := make(engine.BackendList, 0, len(kinds))
	for _, kind := range kinds {
		b, err := r.backend(capability, kind)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, nil
}

func (r *Registry) backend(capability engine.Capability, kind string) (engine.Backend, error) {
	switch capability {
	case engine.CapabilityUser:
		switch kind {
		case KindUseradd:
			return NewUseradd(r.opts.Runner, r.opts.UseraddTries, r.opts.UseraddDelay, r.opts.Logger), nil
		case KindAdduser:
			return NewAdduser(r.opts.Runner), nil
		}
	case engine.CapabilityPassword:
		switch kind {
		case KindPasswd:
			return NewPasswd(r.opts.Runner, r.opts.AllowPassword), nil
		case KindUsermod:
			return NewUsermod(r.opts.Runner, r.opts.AllowPassword), nil
		}
	case engine.CapabilityHostname:
		switch kind {
		case KindHostnamectl:
			return NewHostnamectl(r.opts.Runner), nil
		case KindHostname:
			return NewHostname(r.opts.Runner, r.opts.HostnameFile), nil
		}
	}
	return nil, fmt.Errorf("unknown %s backend %q", capability, kind)
}

func orDefault(kinds, def []string) []string {
	if len(kinds) == 0 {
		return def
	}
	return kinds
}
