package policy

import (
	"time"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is logged but does not block provisioning.
	SeverityWarning Severity = "warning"

	// SeverityError blocks provisioning.
	SeverityError Severity = "error"
)

// Rule names reported by the built-in policies.
const (
	RuleNonEmptyPassword = "non_empty_password"
	RuleEmptyUsername    = "empty_username"
	RuleReservedUsername = "reserved_username"
	RuleHostnameLength   = "hostname_length"
	RuleHostnameFormat   = "hostname_format"
)

// DefaultReservedUsers may never be provisioned.
var DefaultReservedUsers = []string{"root", "daemon", "bin", "sys", "sync", "nobody"}

// Policy is a Rego module whose package defines a `deny` set.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Rule     string   `json:"rule,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as `input`. It never carries the password itself.
type Input struct {
	Hostname string      `json:"hostname"`
	User     UserInput   `json:"user"`
	Params   InputParams `json:"params"`
}

// UserInput describes the requested account.
type UserInput struct {
	Name        string   `json:"name"`
	Groups      []string `json:"groups"`
	HasPassword bool     `json:"has_password"`
	SSHKeys     int      `json:"ssh_keys"`
}

// InputParams carries operator settings into the policies.
type InputParams struct {
	AllowPassword bool     `json:"allow_password"`
	ReservedUsers []string `json:"reserved_users"`
}

// NewInput builds the policy input for spec.
func NewInput(spec *engine.ProvisioningSpec, params InputParams) *Input {
	groups := spec.User.Groups
	if groups == nil {
		groups = []string{}
	}
	if params.ReservedUsers == nil {
		params.ReservedUsers = []string{}
	}
	return &Input{
		Hostname: spec.Hostname,
		User: UserInput{
			Name:        spec.User.Name,
			Groups:      groups,
			HasPassword: spec.User.HasPassword(),
			SSHKeys:     len(spec.User.SSHKeys),
		},
		Params: params,
	}
}
