package linux

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// UserComment is recorded in the GECOS field of users vminit creates.
const UserComment = "Provisioning agent created this user based on username provided in IMDS"

// Default useradd retry policy.
const (
	DefaultUseraddRetries = 5
	DefaultUseraddDelay   = 30 * time.Second
)

// userExists asks the name service whether the user is known.
func userExists(ctx context.Context, runner Runner, name string) bool {
	_, err := runner.Run(ctx, Command{Name: "getent", Args: []string{"passwd", name}})
	return err == nil
}

// Useradd creates users with useradd. An existing user counts as success. A failing
// useradd is retried a fixed number of times before the backend gives up.
type Useradd struct {
	runner  Runner
	retries int
	delay   time.Duration
	logger  zerolog.Logger
}

// NewUseradd creates a useradd backend. Non-positive retries select the default.
func NewUseradd(runner Runner, retries int, delay time.Duration, logger zerolog.Logger) *Useradd {
	if retries <= 0 {
		retries = DefaultUseraddRetries
	}
	return &Useradd{
		runner:  runner,
		retries: retries,
		delay:   delay,
		logger:  logger.With().Str("backend", KindUseradd).Logger(),
	}
}

// Name implements engine.Backend.
func (u *Useradd) Name() string { return KindUseradd }

// Attempt implements engine.Backend.
func (u *Useradd) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	user := spec.User
	if userExists(ctx, u.runner, user.Name) {
		u.logger.Info().Str("user", user.Name).Msg("User already exists")
		return nil
	}

	args := []string{user.Name, "--comment", UserComment}
	if len(user.Groups) > 0 {
		args = append(args, "--groups", strings.Join(user.Groups, ","))
	}
	cmd := Command{Name: "useradd", Args: append(args, "-d", "/home/"+user.Name, "-m")}

	var err error
	for attempt := 1; attempt <= u.retries; attempt++ {
		if _, err = u.runner.Run(ctx, cmd); err == nil {
			return nil
		}
		if attempt == u.retries {
			break
		}
		u.logger.Warn().Err(err).Int("attempt", attempt).Msg("useradd failed, retrying")
		select {
		case <-ctx.Done():
			return engine.NewUnhandledError("useradd cancelled", ctx.Err())
		case <-time.After(u.delay):
		}
	}
	return err
}

// Adduser creates users with the Debian adduser front-end and then adds supplementary
// groups with usermod.
type Adduser struct {
	runner Runner
}

// NewAdduser creates an adduser backend.
func NewAdduser(runner Runner) *Adduser {
	return &Adduser{runner: runner}
}

// Name implements engine.Backend.
func (a *Adduser) Name() string { return KindAdduser }

// Attempt implements engine.Backend.
func (a *Adduser) Attempt(ctx context.Context, spec *engine.ProvisioningSpec) error {
	user := spec.User
	if !userExists(ctx, a.runner, user.Name) {
		_, err := a.runner.Run(ctx, Command{
			Name: "adduser",
			Args: []string{
				"--disabled-password",
				"--gecos", UserComment,
				"--home", "/home/" + user.Name,
				user.Name,
			},
		})
		if err != nil {
			return err
		}
	}

	if len(user.Groups) == 0 {
		return nil
	}
	_, err := a.runner.Run(ctx, Command{
		Name: "usermod",
		Args: []string{"-aG", strings.Join(user.Groups, ","), user.Name},
	})
	return err
}
