package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorKind classifies a provisioning failure.
type ErrorKind string

const (
	// ErrorKindTransport indicates a connection or I/O failure talking to a remote endpoint.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindHTTPStatus indicates a hard-fail HTTP status code.
	ErrorKindHTTPStatus ErrorKind = "http_status"

	// ErrorKindTimeout indicates a retry budget was exhausted.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindDeserialize indicates a malformed XML or JSON response.
	ErrorKindDeserialize ErrorKind = "deserialize"

	// ErrorKindSubprocessFailed indicates an external command exited unsuccessfully.
	ErrorKindSubprocessFailed ErrorKind = "subprocess_failed"

	// ErrorKindNoProvisioner indicates every backend for a capability failed.
	ErrorKindNoProvisioner ErrorKind = "no_provisioner"

	// ErrorKindUserMissing indicates the OS user could not be resolved.
	ErrorKindUserMissing ErrorKind = "user_missing"

	// ErrorKindNonEmptyPassword indicates an explicit password was supplied where policy forbids it.
	ErrorKindNonEmptyPassword ErrorKind = "non_empty_password"

	// ErrorKindIO indicates a local filesystem failure.
	ErrorKindIO ErrorKind = "io"

	// ErrorKindPolicyViolation indicates the provisioning spec was rejected by policy.
	ErrorKindPolicyViolation ErrorKind = "policy_violation"

	// ErrorKindUnhandled is the catch-all.
	ErrorKindUnhandled ErrorKind = "unhandled"
)

// Error is a classified provisioning error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Endpoint is the remote URL involved, if any.
	Endpoint string `json:"endpoint,omitempty"`

	// Status is the HTTP status code for http_status errors.
	Status int `json:"status,omitempty"`

	// Command is the external command for subprocess_failed errors.
	Command string `json:"command,omitempty"`

	// ExitCode is the exit status of Command.
	ExitCode int `json:"exit_code,omitempty"`

	// Capability is set for no_provisioner errors.
	Capability Capability `json:"capability,omitempty"`

	// User is set for user_missing errors.
	User string `json:"user,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	switch {
	case e.Endpoint != "" && e.Status != 0:
		fmt.Fprintf(&b, " (HTTP %d from %s)", e.Status, e.Endpoint)
	case e.Endpoint != "":
		fmt.Fprintf(&b, " (endpoint=%s)", e.Endpoint)
	case e.Command != "":
		fmt.Fprintf(&b, " (command=%s, exit=%d)", e.Command, e.ExitCode)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, and on Capability when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Capability == "" || e.Capability == t.Capability
}

// Sentinels for errors.Is checks.
var (
	ErrTransport             = &Error{Kind: ErrorKindTransport, Message: "transport failure"}
	ErrHTTPStatus            = &Error{Kind: ErrorKindHTTPStatus, Message: "HTTP request did not succeed"}
	ErrTimeout               = &Error{Kind: ErrorKindTimeout, Message: "retry budget exhausted"}
	ErrDeserialize           = &Error{Kind: ErrorKindDeserialize, Message: "unable to deserialize response"}
	ErrSubprocessFailed      = &Error{Kind: ErrorKindSubprocessFailed, Message: "subprocess failed"}
	ErrUserMissing           = &Error{Kind: ErrorKindUserMissing, Message: "user does not exist"}
	ErrNonEmptyPassword      = &Error{Kind: ErrorKindNonEmptyPassword, Message: "provisioning a user with a non-empty password is not supported"}
	ErrPolicyViolation       = &Error{Kind: ErrorKindPolicyViolation, Message: "provisioning spec rejected by policy"}
	ErrNoUserProvisioner     = &Error{Kind: ErrorKindNoProvisioner, Capability: CapabilityUser, Message: "failed to create a user; none of the provided backends succeeded"}
	ErrNoPasswordProvisioner = &Error{Kind: ErrorKindNoProvisioner, Capability: CapabilityPassword, Message: "failed to set the user password; none of the provided backends succeeded"}
	ErrNoHostnameProvisioner = &Error{Kind: ErrorKindNoProvisioner, Capability: CapabilityHostname, Message: "failed to set the hostname; none of the provided backends succeeded"}
)

// NewTransportError wraps a connection-level failure.
func NewTransportError(endpoint string, err error) *Error {
	return &Error{
		Kind:     ErrorKindTransport,
		Message:  "HTTP client error occurred",
		Endpoint: endpoint,
		Err:      err,
	}
}

// NewHTTPStatusError creates a hard-fail status error.
func NewHTTPStatusError(endpoint string, status int) *Error {
	return &Error{
		Kind:     ErrorKindHTTPStatus,
		Message:  "HTTP request did not succeed",
		Endpoint: endpoint,
		Status:   status,
	}
}

// NewTimeoutError creates a budget exhaustion error.
func NewTimeoutError(endpoint string, err error) *Error {
	return &Error{
		Kind:     ErrorKindTimeout,
		Message:  "retry budget exhausted",
		Endpoint: endpoint,
		Err:      err,
	}
}

// NewDeserializeError wraps an XML or JSON decoding failure.
func NewDeserializeError(message string, err error) *Error {
	return &Error{
		Kind:    ErrorKindDeserialize,
		Message: message,
		Err:     err,
	}
}

// NewSubprocessError records a failed external command.
func NewSubprocessError(command string, exitCode int, err error) *Error {
	return &Error{
		Kind:     ErrorKindSubprocessFailed,
		Message:  "executing command failed",
		Command:  command,
		ExitCode: exitCode,
		Err:      err,
	}
}

// NewUserMissingError reports a user that could not be resolved on the host.
func NewUserMissingError(user string, err error) *Error {
	return &Error{
		Kind:    ErrorKindUserMissing,
		Message: fmt.Sprintf("the user %s does not exist", user),
		User:    user,
		Err:     err,
	}
}

// NewIOError wraps a local filesystem failure.
func NewIOError(message string, err error) *Error {
	return &Error{
		Kind:    ErrorKindIO,
		Message: message,
		Err:     err,
	}
}

// NewPolicyError reports rejected provisioning input.
func NewPolicyError(message string) *Error {
	return &Error{
		Kind:    ErrorKindPolicyViolation,
		Message: message,
	}
}

// NewUnhandledError is the catch-all constructor.
func NewUnhandledError(details string, err error) *Error {
	return &Error{
		Kind:    ErrorKindUnhandled,
		Message: details,
		Err:     err,
	}
}

// noProvisioner returns a fresh copy of the capability's exhaustion error.
func noProvisioner(c Capability) *Error {
	var sentinel *Error
	switch c {
	case CapabilityUser:
		sentinel = ErrNoUserProvisioner
	case CapabilityPassword:
		sentinel = ErrNoPasswordProvisioner
	default:
		sentinel = ErrNoHostnameProvisioner
	}
	cp := *sentinel
	return &cp
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindUnhandled
}

// IsTimeout reports whether err is a budget exhaustion.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsHTTPStatus reports whether err is a hard-fail status error.
func IsHTTPStatus(err error) bool {
	return errors.Is(err, ErrHTTPStatus)
}

// AgentName is reported to the control plane in user agents and reports.
const AgentName = "vminit"

// Version is set by the binary at startup; it defaults to "dev".
var Version = "dev"

// EncodedReport renders err as a pipe-delimited key=value record suitable for a NotReady
// health report description.
func EncodedReport(err error, vmID string) string {
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	return encodeReport([]string{
		"result=error",
		"reason=" + reason,
		"kind=" + string(KindOf(err)),
		"agent=" + agentString(),
		"vm_id=" + vmID,
		"timestamp=" + time.Now().UTC().Format(time.RFC3339),
	})
}

// EncodedSuccessReport renders the description attached to a Ready health report.
// extra, when non-empty, is appended as additional key=value pairs.
func EncodedSuccessReport(vmID string, extra map[string]string) string {
	fields := []string{
		"result=success",
		"agent=" + agentString(),
		"pps_type=None",
		"vm_id=" + vmID,
		"timestamp=" + time.Now().UTC().Format(time.RFC3339),
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, k+"="+extra[k])
	}
	return encodeReport(fields)
}

func agentString() string {
	return fmt.Sprintf("%s/%s", AgentName, Version)
}

// encodeReport joins fields with '|', quoting only where a field contains the delimiter,
// a quote, or a line break.
func encodeReport(fields []string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = '|'
	// Write only fails on the underlying writer, and strings.Builder never fails.
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimRight(b.String(), "\r\n")
}

// EncodedReport renders e as a NotReady health report description.
func (e *Error) EncodedReport(vmID string) string {
	return EncodedReport(e, vmID)
}
