package stores

import (
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultUUIDPath is where the kernel exposes the SMBIOS system UUID.
const DefaultUUIDPath = "/sys/devices/virtual/dmi/id/product_uuid"

// DefaultEFIPaths mark a generation-2 (UEFI) platform when any of them exists.
var DefaultEFIPaths = []string{"/sys/firmware/efi", "/dev/efi"}

// Generation is the virtualization generation of the platform.
type Generation int

const (
	Gen1 Generation = 1
	Gen2 Generation = 2
)

// IdentityDeriver yields the VM identity, or false when none is available.
type IdentityDeriver interface {
	Derive() (string, bool)
}

// IdentitySource derives the VM identity from the hardware UUID.
type IdentitySource struct {
	uuidPath string
	efiPaths []string
	logger   zerolog.Logger
}

// NewIdentitySource creates an identity source. Empty arguments select the defaults.
func NewIdentitySource(uuidPath string, efiPaths []string, logger zerolog.Logger) *IdentitySource {
	if uuidPath == "" {
		uuidPath = DefaultUUIDPath
	}
	if efiPaths == nil {
		efiPaths = DefaultEFIPaths
	}
	return &IdentitySource{
		uuidPath: uuidPath,
		efiPaths: efiPaths,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Generation reports Gen2 when firmware EFI is present.
func (s *IdentitySource) Generation() Generation {
	for _, p := range s.efiPaths {
		if _, err := os.Stat(p); err == nil {
			return Gen2
		}
	}
	return Gen1
}

// Derive reads the hardware UUID. On generation-1 platforms the first three UUID fields
// are byte-swapped; generation-2 uses the UUID as read.
func (s *IdentitySource) Derive() (string, bool) {
	data, err := os.ReadFile(s.uuidPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.uuidPath).Msg("Unable to read hardware UUID")
		}
		return "", false
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", false
	}

	if s.Generation() == Gen2 {
		return raw, true
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("uuid", raw).Msg("Hardware UUID is not a valid UUID, using it unmodified")
		return raw, true
	}
	return SwapUUIDFields(id).String(), true
}

// SwapUUIDFields reverses the byte order of the first three UUID fields (4, 2 and 2
// bytes). Applying it twice yields the original UUID.
func SwapUUIDFields(id uuid.UUID) uuid.UUID {
	out := id
	out[0], out[1], out[2], out[3] = id[3], id[2], id[1], id[0]
	out[4], out[5] = id[5], id[4]
	out[6], out[7] = id[7], id[6]
	return out
}

// StaticIdentity is a fixed identity, used when the identity is known up front.
type StaticIdentity string

// Derive implements IdentityDeriver.
func (s StaticIdentity) Derive() (string, bool) {
	return string(s), s != ""
}
