// Package imds queries the instance metadata service and turns its answer into a
// provisioning spec.
package imds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/transports/retryhttp"
)

// DefaultURL is the instance metadata endpoint.
const DefaultURL = "http://169.254.169.254/metadata/instance?api-version=2021-02-01"

// StringBool decodes JSON booleans as well as the strings "true" and "false".
type StringBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *StringBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = StringBool(v)
	case string:
		switch v {
		case "true":
			*b = true
		case "false":
			*b = false
		default:
			return fmt.Errorf("unknown variant %q, expected one of \"true\", \"false\"", v)
		}
	default:
		return fmt.Errorf("unexpected type %T, expected 'true' or 'false'", raw)
	}
	return nil
}

// OSProfile describes the admin account and machine name.
type OSProfile struct {
	AdminUsername                 string     `json:"adminUsername" validate:"required"`
	ComputerName                  string     `json:"computerName" validate:"required"`
	DisablePasswordAuthentication StringBool `json:"disablePasswordAuthentication"`
}

// Compute is the compute section of the instance metadata.
type Compute struct {
	OSProfile  OSProfile          `json:"osProfile"`
	PublicKeys []engine.PublicKey `json:"publicKeys" validate:"required"`
}

// InstanceMetadata is the subset of the metadata document vminit consumes.
type InstanceMetadata struct {
	Compute Compute `json:"compute"`
}

var validate = validator.New()

// Parse decodes and validates a metadata document.
func Parse(data []byte) (*InstanceMetadata, error) {
	var md InstanceMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, engine.NewDeserializeError("unable to parse instance metadata", err)
	}
	if err := validate.Struct(&md); err != nil {
		return nil, engine.NewDeserializeError("instance metadata is missing required fields", err)
	}
	return &md, nil
}

// PasswordAuthentication reports whether sshd should accept passwords.
func (m *InstanceMetadata) PasswordAuthentication() bool {
	return !bool(m.Compute.OSProfile.DisablePasswordAuthentication)
}

// Spec builds the provisioning spec. Empty groups keep the default groups.
func (m *InstanceMetadata) Spec(groups []string) *engine.ProvisioningSpec {
	user := engine.NewUser(m.Compute.OSProfile.AdminUsername, m.Compute.PublicKeys)
	if len(groups) > 0 {
		user = user.WithGroups(groups)
	}
	return &engine.ProvisioningSpec{
		Hostname: m.Compute.OSProfile.ComputerName,
		User:     user,
	}
}

// Config configures a Client.
type Config struct {
	URL    string
	Budget retryhttp.Budget
}

// Client queries the metadata service.
type Client struct {
	url    string
	budget retryhttp.Budget
	exec   *retryhttp.Executor
	logger zerolog.Logger
}

// NewClient creates a metadata client.
func NewClient(cfg Config, exec *retryhttp.Executor, logger zerolog.Logger) *Client {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:    url,
		budget: cfg.Budget,
		exec:   exec,
		logger: logger.With().Str("component", "imds").Logger(),
	}
}

// Query fetches instance metadata. Undecodable bodies are retried with the remaining
// budget.
func (c *Client) Query(ctx context.Context) (*InstanceMetadata, error) {
	h := http.Header{}
	h.Set("Metadata", "true")
	req := retryhttp.Request{Method: http.MethodGet, URL: c.url, Header: h}

	budget := c.budget
	for !budget.Exhausted() {
		resp, left, err := c.exec.Execute(ctx, req, retryhttp.OK, budget)
		if err != nil {
			return nil, err
		}

		md, err := Parse(resp.Body)
		if err == nil {
			c.logger.Info().
				Str("computer_name", md.Compute.OSProfile.ComputerName).
				Int("public_keys", len(md.Compute.PublicKeys)).
				Msg("Retrieved instance metadata")
			return md, nil
		}

		c.logger.Warn().Err(err).Msg("The response body was invalid and could not be deserialized")
		budget = budget.WithRemaining(left)
	}

	return nil, engine.NewTimeoutError(c.url, nil)
}
