package engine

import (
	"context"
	"os/user"
	"strconv"
	"time"
)

// Backend is one strategy for achieving a capability, e.g. useradd for user creation.
// Attempt returns nil on success. Backends own their own internal retry policy; the
// provisioner never retries a backend.
type Backend interface {
	Name() string
	Attempt(ctx context.Context, spec *ProvisioningSpec) error
}

// BackendList is an ordered fallback sequence for a single capability.
type BackendList []Backend

// Backends groups the fallback lists for every pluggable capability.
type Backends struct {
	User     BackendList
	Password BackendList
	Hostname BackendList
}

// Account is a resolved OS user.
type Account struct {
	Name    string
	UID     int
	GID     int
	HomeDir string
}

// UserLookup resolves an existing OS user by name.
type UserLookup interface {
	Lookup(name string) (*Account, error)
}

// KeyInstaller writes SSH public keys for an account. It is a fixed procedure rather than a
// pluggable capability, so any failure is fatal to the run.
type KeyInstaller interface {
	Install(ctx context.Context, account *Account, keys []PublicKey) error
}

// Observer is notified of each backend attempt.
type Observer interface {
	BackendAttempt(capability Capability, backend string, duration time.Duration, err error)
}

// Observers fans out to several observers.
type Observers []Observer

// BackendAttempt implements Observer.
func (o Observers) BackendAttempt(capability Capability, backend string, duration time.Duration, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.BackendAttempt(capability, backend, duration, err)
		}
	}
}

// OSUserLookup resolves users through the host's user database.
type OSUserLookup struct{}

// Lookup implements UserLookup.
func (OSUserLookup) Lookup(name string) (*Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, NewUserMissingError(name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, NewUnhandledError("unable to parse uid for "+name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, NewUnhandledError("unable to parse gid for "+name, err)
	}
	return &Account{Name: u.Username, UID: uid, GID: gid, HomeDir: u.HomeDir}, nil
}
