package engine

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Default fact sources.
const (
	DefaultOSReleasePath     = "/etc/os-release"
	DefaultKernelReleasePath = "/proc/sys/kernel/osrelease"
)

// OSFacts describes the guest operating system.
type OSFacts struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	VersionID string `json:"version_id"`
	Kernel    string `json:"kernel"`
}

// ReportFields returns the facts as extra key=value pairs for a Ready report. Unknown
// values are left out.
func (f *OSFacts) ReportFields() map[string]string {
	out := make(map[string]string)
	if f == nil {
		return out
	}
	if f.ID != "" {
		distro := f.ID
		if f.VersionID != "" {
			distro += "-" + f.VersionID
		}
		out["distro"] = distro
	}
	if f.Kernel != "" {
		out["kernel"] = f.Kernel
	}
	return out
}

// FactsCollector reads OS facts from the local filesystem.
type FactsCollector struct {
	osReleasePath string
	kernelPath    string
	logger        zerolog.Logger
}

// NewFactsCollector creates a collector. Empty paths select the defaults.
func NewFactsCollector(osReleasePath, kernelPath string, logger zerolog.Logger) *FactsCollector {
	if osReleasePath == "" {
		osReleasePath = DefaultOSReleasePath
	}
	if kernelPath == "" {
		kernelPath = DefaultKernelReleasePath
	}
	return &FactsCollector{
		osReleasePath: osReleasePath,
		kernelPath:    kernelPath,
		logger:        logger.With().Str("component", "facts").Logger(),
	}
}

// Collect gathers what it can. Missing sources leave fields empty.
func (c *FactsCollector) Collect() *OSFacts {
	facts := &OSFacts{}

	if data, err := os.ReadFile(c.osReleasePath); err == nil {
		facts = ParseOSRelease(string(data))
	} else if !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug().Err(err).Str("path", c.osReleasePath).Msg("Unable to read os-release")
	}

	if data, err := os.ReadFile(c.kernelPath); err == nil {
		facts.Kernel = strings.TrimSpace(string(data))
	} else {
		c.logger.Debug().Err(err).Str("path", c.kernelPath).Msg("Unable to read kernel release")
	}

	c.logger.Debug().
		Str("id", facts.ID).
		Str("version_id", facts.VersionID).
		Str("kernel", facts.Kernel).
		Msg("Collected OS facts")
	return facts
}

// ParseOSRelease parses an os-release(5) document.
func ParseOSRelease(data string) *OSFacts {
	facts := &OSFacts{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			facts.ID = value
		case "NAME":
			facts.Name = value
		case "VERSION_ID":
			facts.VersionID = value
		}
	}
	return facts
}
