package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"timeout", NewTimeoutError("http://x", nil), ErrTimeout, true},
		{"wrapped timeout", fmt.Errorf("fetch: %w", NewTimeoutError("http://x", nil)), ErrTimeout, true},
		{"status is not timeout", NewHTTPStatusError("http://x", 401), ErrTimeout, false},
		{"status", NewHTTPStatusError("http://x", 403), ErrHTTPStatus, true},
		{"capability match", noProvisioner(CapabilityUser), ErrNoUserProvisioner, true},
		{"capability mismatch", noProvisioner(CapabilityUser), ErrNoHostnameProvisioner, false},
		{"plain error", errors.New("boom"), ErrTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewHTTPStatusError("http://168.63.129.16/machine/?comp=health", 403)
	assert.Equal(t, "HTTP request did not succeed (HTTP 403 from http://168.63.129.16/machine/?comp=health)", err.Error())

	sub := NewSubprocessError("useradd", 9, errors.New("exit status 9"))
	assert.Equal(t, "executing command failed (command=useradd, exit=9): exit status 9", sub.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKindHTTPStatus, KindOf(fmt.Errorf("x: %w", NewHTTPStatusError("u", 405))))
	assert.Equal(t, ErrorKindUnhandled, KindOf(errors.New("plain")))
	assert.True(t, IsTimeout(NewTimeoutError("u", nil)))
	assert.True(t, IsHTTPStatus(NewHTTPStatusError("u", 401)))
}

func TestEncodedReports(t *testing.T) {
	vmID := "00000000-0000-0000-0000-000000000abc"

	ok := EncodedSuccessReport(vmID, map[string]string{"build": "test-123"})
	assert.True(t, strings.HasPrefix(ok, "result=success|"))
	assert.Contains(t, ok, "agent=vminit/")
	assert.Contains(t, ok, "vm_id="+vmID)
	assert.Contains(t, ok, "build=test-123")
	assert.Contains(t, ok, "pps_type=None")
	assert.Contains(t, ok, "timestamp=")
	assert.NotContains(t, ok, "\n")

	ordered := EncodedSuccessReport(vmID, map[string]string{"kernel": "6.8", "distro": "ubuntu-22.04"})
	assert.Less(t, strings.Index(ordered, "distro="), strings.Index(ordered, "kernel="))

	failed := EncodedReport(NewHTTPStatusError("http://wire", 401), vmID)
	assert.True(t, strings.HasPrefix(failed, "result=error|"))
	assert.Contains(t, failed, "kind=http_status")
	assert.Contains(t, failed, "vm_id="+vmID)
}

func TestEncodedReportQuotesDelimiter(t *testing.T) {
	report := EncodedReport(errors.New("a|b"), "vm")
	assert.Contains(t, report, `"reason=a|b"`)
}

func TestUserStringHidesPassword(t *testing.T) {
	u := NewUser("azureuser", nil).WithPassword("hunter2")
	assert.NotContains(t, u.String(), "hunter2")
	assert.Contains(t, u.String(), "password=set")
	assert.Contains(t, NewUser("azureuser", nil).String(), "password=unset")
}

func TestUserWithGroups(t *testing.T) {
	u := NewUser("azureuser", nil)
	assert.Equal(t, []string{"wheel"}, u.Groups)

	u = u.WithGroups([]string{"wheel", " dialout ", "", "wheel"})
	assert.Equal(t, []string{"wheel", "dialout"}, u.Groups)
}
