package wireserver

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/transports/retryhttp"
)

const (
	// DefaultGoalstateURL is the goalstate endpoint on the fabric wireserver.
	DefaultGoalstateURL = "http://168.63.129.16/machine/?comp=goalstate"

	// DefaultHealthURL is the XML health endpoint on the fabric wireserver.
	DefaultHealthURL = "http://168.63.129.16/machine/?comp=health"

	// ProtocolVersion is sent in x-ms-version on every wireserver request.
	ProtocolVersion = "2012-11-30"
)

// Goalstate is one snapshot of the VM's goalstate. Incarnation must be echoed verbatim in
// the health report that follows. The root element name is not checked; the fabric sends
// <GoalState> while older fixtures use <Goalstate>.
type Goalstate struct {
	ContainerID string `xml:"Container>ContainerId" validate:"required"`
	InstanceID  string `xml:"Container>RoleInstanceList>RoleInstance>InstanceId" validate:"required"`
	Version     string `xml:"Version" validate:"required"`
	Incarnation string `xml:"Incarnation" validate:"required"`
}

var validate = validator.New()

// ParseGoalstate decodes and validates a goalstate XML document.
func ParseGoalstate(data []byte) (*Goalstate, error) {
	var gs Goalstate
	if err := xml.Unmarshal(data, &gs); err != nil {
		return nil, engine.NewDeserializeError("unable to parse goalstate XML", err)
	}
	gs.ContainerID = strings.TrimSpace(gs.ContainerID)
	gs.InstanceID = strings.TrimSpace(gs.InstanceID)
	gs.Version = strings.TrimSpace(gs.Version)
	gs.Incarnation = strings.TrimSpace(gs.Incarnation)
	if err := validate.Struct(&gs); err != nil {
		return nil, engine.NewDeserializeError("goalstate is missing required fields", err)
	}
	return &gs, nil
}

const healthTemplate = `<?xml version="1.0" encoding="utf-8"?>
<Health xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">
<GoalStateIncarnation>$GOAL_STATE_INCARNATION</GoalStateIncarnation>
<Container>
<ContainerId>$CONTAINER_ID</ContainerId>
<RoleInstanceList>
<Role>
<InstanceId>$INSTANCE_ID</InstanceId>
<Health>
<State>Ready</State>
</Health>
</Role>
</RoleInstanceList>
</Container>
</Health>`

// HealthDocument renders the Ready health report for gs.
func HealthDocument(gs *Goalstate) string {
	return strings.NewReplacer(
		"$GOAL_STATE_INCARNATION", escape(gs.Incarnation),
		"$CONTAINER_ID", escape(gs.ContainerID),
		"$INSTANCE_ID", escape(gs.InstanceID),
	).Replace(healthTemplate)
}

func escape(s string) string {
	var b bytes.Buffer
	// EscapeText only fails on the writer, and bytes.Buffer never fails.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Client speaks the goalstate/health handshake with the wireserver.
type Client struct {
	goalstateURL string
	healthURL    string
	agentName    string
	budget       retryhttp.Budget
	exec         *retryhttp.Executor
	logger       zerolog.Logger
}

// Config configures a Client. Empty URLs fall back to the defaults.
type Config struct {
	GoalstateURL string
	HealthURL    string
	AgentName    string
	Budget       retryhttp.Budget
}

// NewClient creates a wireserver client.
func NewClient(cfg Config, exec *retryhttp.Executor, logger zerolog.Logger) *Client {
	c := &Client{
		goalstateURL: cfg.GoalstateURL,
		healthURL:    cfg.HealthURL,
		agentName:    cfg.AgentName,
		budget:       cfg.Budget,
		exec:         exec,
		logger:       logger.With().Str("component", "wireserver").Logger(),
	}
	if c.goalstateURL == "" {
		c.goalstateURL = DefaultGoalstateURL
	}
	if c.healthURL == "" {
		c.healthURL = DefaultHealthURL
	}
	if c.agentName == "" {
		c.agentName = engine.AgentName
	}
	return c
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("x-ms-agent-name", c.agentName)
	h.Set("x-ms-version", ProtocolVersion)
	return h
}

// FetchGoalstate retrieves the current goalstate. A body that cannot be decoded is logged
// and fetched again with whatever budget is left, so a persistently malformed response
// ends in a timeout error.
func (c *Client) FetchGoalstate(ctx context.Context) (*Goalstate, error) {
	req := retryhttp.Request{
		Method: http.MethodGet,
		URL:    c.goalstateURL,
		Header: c.headers(),
	}

	budget := c.budget
	for !budget.Exhausted() {
		resp, left, err := c.exec.Execute(ctx, req, retryhttp.OK, budget)
		if err != nil {
			return nil, err
		}

		gs, err := ParseGoalstate(resp.Body)
		if err == nil {
			c.logger.Info().
				Str("container_id", gs.ContainerID).
				Str("incarnation", gs.Incarnation).
				Msg("Retrieved goalstate")
			return gs, nil
		}

		c.logger.Warn().Err(err).Msg("The response body was invalid and could not be deserialized")
		budget = budget.WithRemaining(left)
	}

	return nil, engine.NewTimeoutError(c.goalstateURL, nil)
}

// ReportHealth posts a Ready health document for gs.
func (c *Client) ReportHealth(ctx context.Context, gs *Goalstate) error {
	h := c.headers()
	h.Set("Content-Type", "text/xml;charset=utf-8")

	req := retryhttp.Request{
		Method: http.MethodPost,
		URL:    c.healthURL,
		Header: h,
		Body:   []byte(HealthDocument(gs)),
	}

	if _, _, err := c.exec.Execute(ctx, req, retryhttp.OK, c.budget); err != nil {
		return err
	}

	c.logger.Info().Str("incarnation", gs.Incarnation).Msg("Reported health to wireserver")
	return nil
}
