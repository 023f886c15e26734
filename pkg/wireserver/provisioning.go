package wireserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/transports/retryhttp"
)

// DefaultProvisioningHealthURL is the JSON provisioning-health endpoint.
const DefaultProvisioningHealthURL = "http://168.63.129.16/provisioning/health"

// State is the provisioning state reported to the control plane.
type State string

const (
	StateReady    State = "Ready"
	StateNotReady State = "NotReady"
)

// SubStatus qualifies a NotReady report.
type SubStatus string

const (
	SubStatusProvisioning       SubStatus = "Provisioning"
	SubStatusProvisioningFailed SubStatus = "ProvisioningFailed"
)

// Status is one provisioning-health report.
type Status struct {
	State       State
	SubStatus   SubStatus
	Description string
}

// ReportPolicy accepts 200 and 201 and retries only throttling and unavailability.
var ReportPolicy = retryhttp.Policy{
	SuccessCodes: []int{http.StatusOK, http.StatusCreated},
	RetryCodes:   []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
}

type statusDetails struct {
	SubStatus   SubStatus `json:"subStatus"`
	Description string    `json:"description"`
}

type statusBody struct {
	State   State          `json:"state"`
	Details *statusDetails `json:"details,omitempty"`
}

// MarshalJSON renders {"state":..} or, for NotReady, {"state":..,"details":{..}}.
func (s Status) MarshalJSON() ([]byte, error) {
	body := statusBody{State: s.State}
	if s.State != StateReady {
		body.Details = &statusDetails{SubStatus: s.SubStatus, Description: s.Description}
	}
	return json.Marshal(body)
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	URL    string
	Budget retryhttp.Budget
}

// Reporter posts provisioning-health reports.
type Reporter struct {
	url    string
	budget retryhttp.Budget
	exec   *retryhttp.Executor
	logger zerolog.Logger
}

// NewReporter creates a provisioning-health reporter.
func NewReporter(cfg ReporterConfig, exec *retryhttp.Executor, logger zerolog.Logger) *Reporter {
	url := cfg.URL
	if url == "" {
		url = DefaultProvisioningHealthURL
	}
	return &Reporter{
		url:    url,
		budget: cfg.Budget,
		exec:   exec,
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// ReportStatus posts status. Success, retry and budget accounting all happen in a single
// executor call.
func (r *Reporter) ReportStatus(ctx context.Context, status Status) error {
	body, err := json.Marshal(status)
	if err != nil {
		return engine.NewUnhandledError("unable to encode provisioning-health report", err)
	}

	agent := fmt.Sprintf("%s v%s", engine.AgentName, engine.Version)
	h := http.Header{}
	h.Set("User-Agent", agent)
	h.Set("x-ms-guest-agent-name", agent)
	h.Set("Content-Type", "application/json")

	if status.Description != "" {
		r.logger.Info().Str("health_report", status.Description).Msg("Provisioning-health report")
	}

	resp, _, err := r.exec.Execute(ctx, retryhttp.Request{
		Method: http.MethodPost,
		URL:    r.url,
		Header: h,
		Body:   body,
	}, ReportPolicy, r.budget)
	if err != nil {
		r.logger.Error().Err(err).Str("state", string(status.State)).Msg("Provisioning-health report failed")
		return err
	}

	r.logger.Info().
		Str("state", string(status.State)).
		Int("status", resp.StatusCode).
		Msg("Provisioning-health report succeeded")
	return nil
}

// ReportReady reports a completed provisioning run.
func (r *Reporter) ReportReady(ctx context.Context, vmID string, extra map[string]string) error {
	return r.ReportStatus(ctx, Status{
		State:       StateReady,
		Description: engine.EncodedSuccessReport(vmID, extra),
	})
}

// ReportFailure reports a failed provisioning run.
func (r *Reporter) ReportFailure(ctx context.Context, cause error, vmID string) error {
	return r.ReportStatus(ctx, Status{
		State:       StateNotReady,
		SubStatus:   SubStatusProvisioningFailed,
		Description: engine.EncodedReport(cause, vmID),
	})
}

// ReportInProgress reports that provisioning has started but not finished.
func (r *Reporter) ReportInProgress(ctx context.Context, vmID string) error {
	return r.ReportStatus(ctx, Status{
		State:       StateNotReady,
		SubStatus:   SubStatusProvisioning,
		Description: fmt.Sprintf("Provisioning is still in progress for vm_id=%s.", vmID),
	})
}
