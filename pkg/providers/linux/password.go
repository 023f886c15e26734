package linux

import (
	"context"

	"github.com/openfroyo/vminit/pkg/engine"
)

// chpasswd pipes "name:password" to chpasswd so the secret never appears in argv.
func chpasswd(ctx context.Context, runner Runner, user engine.User) error {
	_, err := runner.Run(ctx, Command{
		Name:  "chpasswd",
		Stdin: user.Name + ":" + *user.Password + "\n",
	})
	return err
}

// Passwd locks the account with passwd when no password is supplied. An explicit
// password is refused unless allowPassword is set.
type Passwd struct {
	runner        Runner
	allowPassword bool
}

// NewPasswd creates a passwd backend.
func NewPasswd(runner Runner, allowPassword bool) *Passwd {
	return &Passwd{runner: runner, allowPassword: allowPassword}
}

// Name implements engine.Backend.
func (p *Passwd) Name() string { return KindPasswd }

// Attempt implements engine.Backend.
func (p *Passwd) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	user := spec.User
	if !user.HasPassword() {
		_, err := p.runner.Run(ctx, Command{Name: "passwd", Args: []string{"-l", user.Name}})
		return err
	}
	if !p.allowPassword {
		return engine.ErrNonEmptyPassword
	}
	return chpasswd(ctx, p.runner, user)
}

// Usermod locks the account with usermod -L, or sets the password through chpasswd.
type Usermod struct {
	runner        Runner
	allowPassword bool
}

// NewUsermod creates a usermod backend.
func NewUsermod(runner Runner, allowPassword bool) *Usermod {
	return &Usermod{runner: runner, allowPassword: allowPassword}
}

// Name implements engine.Backend.
func (u *Usermod) Name() string { return KindUsermod }

// Attempt implements engine.Backend.
func (u *Usermod) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	user := spec.User
	if !user.HasPassword() {
		_, err := u.runner.Run(ctx, Command{Name: "usermod", Args: []string{"-L", user.Name}})
		return err
	}
	if !u.allowPassword {
		return engine.ErrNonEmptyPassword
	}
	return chpasswd(ctx, u.runner, user)
}
