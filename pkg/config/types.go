package config

import (
	"time"

	"github.com/openfroyo/vminit/pkg/imds"
	"github.com/openfroyo/vminit/pkg/policy"
	"github.com/openfroyo/vminit/pkg/providers/linux"
	"github.com/openfroyo/vminit/pkg/stores"
	"github.com/openfroyo/vminit/pkg/telemetry"
	"github.com/openfroyo/vminit/pkg/transports/retryhttp"
	"github.com/openfroyo/vminit/pkg/wireserver"
)

// Config is the merged agent configuration.
type Config struct {
	SSH SSHConfig `yaml:"ssh"`

	// Ordered backend kinds per capability. The first that succeeds wins.
	HostnameProvisioners []string `yaml:"hostname_provisioners" validate:"dive,oneof=hostnamectl hostname"`
	UserProvisioners     []string `yaml:"user_provisioners" validate:"dive,oneof=useradd adduser"`
	PasswordProvisioners []string `yaml:"password_provisioners" validate:"dive,oneof=passwd usermod"`

	Useradd UseraddConfig `yaml:"useradd"`

	// Groups the provisioned user joins when none are given on the command line.
	Groups []string `yaml:"groups"`

	// HostnameFile is persisted by the hostname backend.
	HostnameFile string `yaml:"hostname_file" validate:"required"`

	IMDS       EndpointConfig   `yaml:"imds"`
	Wireserver WireserverConfig `yaml:"wireserver"`
	Health     EndpointConfig   `yaml:"health"`

	Identity IdentityConfig `yaml:"identity"`

	// DataDir holds the provisioning markers.
	DataDir string `yaml:"data_dir" validate:"required"`

	Journal   JournalConfig    `yaml:"journal"`
	Policy    PolicyConfig     `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// SSHConfig controls authorized_keys placement and sshd management.
type SSHConfig struct {
	// AuthorizedKeysPath may use %h, %u and %%. Empty defers to sshd or the default.
	AuthorizedKeysPath string `yaml:"authorized_keys_path"`

	// QuerySSHDConfig asks `sshd -G` for the authorized keys file.
	QuerySSHDConfig bool `yaml:"query_sshd_config"`

	// ManagePasswordAuthentication writes PasswordAuthentication yes|no after provisioning.
	ManagePasswordAuthentication bool `yaml:"manage_password_authentication"`

	SSHDConfigPath string `yaml:"sshd_config_path" validate:"required"`
	SSHDDropInDir  string `yaml:"sshd_drop_in_dir" validate:"required"`
}

// UseraddConfig is the useradd backend's internal retry policy.
type UseraddConfig struct {
	Retries int           `yaml:"retries" validate:"gte=1"`
	Delay   time.Duration `yaml:"delay" validate:"gte=0"`
}

// EndpointConfig describes one HTTP endpoint and its retry budget.
type EndpointConfig struct {
	Endpoint          string        `yaml:"endpoint" validate:"required,url"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" validate:"gt=0"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RetryInterval     time.Duration `yaml:"retry_interval" validate:"gte=0"`
	TotalRetryTimeout time.Duration `yaml:"total_retry_timeout" validate:"gt=0"`
}

// Budget returns a fresh retry budget for one operation against the endpoint.
func (e EndpointConfig) Budget() retryhttp.Budget {
	return retryhttp.Budget{
		AttemptTimeout: e.RequestTimeout,
		RetryInterval:  e.RetryInterval,
		Remaining:      e.TotalRetryTimeout,
	}
}

// WireserverConfig adds the XML health endpoint to the goalstate endpoint.
type WireserverConfig struct {
	EndpointConfig `yaml:",inline"`
	HealthEndpoint string `yaml:"health_endpoint" validate:"required,url"`
}

// IdentityConfig locates the platform UUID.
type IdentityConfig struct {
	UUIDPath string   `yaml:"uuid_path" validate:"required"`
	EFIPaths []string `yaml:"efi_paths"`
}

// JournalConfig controls the run history database.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig controls the pre-provisioning policy check.
type PolicyConfig struct {
	Enabled       bool     `yaml:"enabled"`
	AllowPassword bool     `yaml:"allow_password"`
	ReservedUsers []string `yaml:"reserved_users"`

	// Paths are extra .rego files or directories.
	Paths []string `yaml:"paths"`

	// Disabled names built-in or loaded policies to skip.
	Disabled []string `yaml:"disabled"`
}

// Default returns the built-in configuration every layer overlays.
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			AuthorizedKeysPath: linux.DefaultAuthorizedKeysFile,
			QuerySSHDConfig:    true,
			SSHDConfigPath:     linux.DefaultSSHDConfig,
			SSHDDropInDir:      linux.DefaultSSHDDropInDir,
		},
		HostnameProvisioners: append([]string(nil), linux.DefaultHostnameBackends...),
		UserProvisioners:     append([]string(nil), linux.DefaultUserBackends...),
		PasswordProvisioners: append([]string(nil), linux.DefaultPasswordBackends...),
		Useradd: UseraddConfig{
			Retries: linux.DefaultUseraddRetries,
			Delay:   linux.DefaultUseraddDelay,
		},
		HostnameFile: linux.DefaultHostnameFile,
		IMDS: EndpointConfig{
			Endpoint:          imds.DefaultURL,
			ConnectionTimeout: 30 * time.Second,
			RequestTimeout:    60 * time.Second,
			RetryInterval:     2 * time.Second,
			TotalRetryTimeout: 300 * time.Second,
		},
		Wireserver: WireserverConfig{
			EndpointConfig: EndpointConfig{
				Endpoint:          wireserver.DefaultGoalstateURL,
				ConnectionTimeout: 60 * time.Second,
				RequestTimeout:    60 * time.Second,
				RetryInterval:     5 * time.Second,
				TotalRetryTimeout: 1200 * time.Second,
			},
			HealthEndpoint: wireserver.DefaultHealthURL,
		},
		Health: EndpointConfig{
			Endpoint:          wireserver.DefaultProvisioningHealthURL,
			ConnectionTimeout: 60 * time.Second,
			RequestTimeout:    60 * time.Second,
			RetryInterval:     5 * time.Second,
			TotalRetryTimeout: 1200 * time.Second,
		},
		Identity: IdentityConfig{
			UUIDPath: stores.DefaultUUIDPath,
			EFIPaths: append([]string(nil), stores.DefaultEFIPaths...),
		},
		DataDir: stores.DefaultLedgerDir,
		Journal: JournalConfig{
			Enabled: true,
			Path:    stores.DefaultJournalPath,
		},
		Policy: PolicyConfig{
			Enabled:       true,
			ReservedUsers: append([]string(nil), policy.DefaultReservedUsers...),
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}
