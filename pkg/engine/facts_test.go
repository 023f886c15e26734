package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

const ubuntuOSRelease = `PRETTY_NAME="Ubuntu 22.04.4 LTS"
NAME="Ubuntu"
VERSION_ID="22.04"
# comment
ID=ubuntu
ID_LIKE=debian
`

func TestParseOSRelease(t *testing.T) {
	facts := ParseOSRelease(ubuntuOSRelease)
	assert.Equal(t, "ubuntu", facts.ID)
	assert.Equal(t, "Ubuntu", facts.Name)
	assert.Equal(t, "22.04", facts.VersionID)
}

func TestFactsCollector(t *testing.T) {
	dir := t.TempDir()
	osRelease := filepath.Join(dir, "os-release")
	kernel := filepath.Join(dir, "osrelease")
	if err := os.WriteFile(osRelease, []byte(ubuntuOSRelease), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kernel, []byte("6.8.0-1012-azure\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	facts := NewFactsCollector(osRelease, kernel, zerolog.Nop()).Collect()
	assert.Equal(t, map[string]string{
		"distro": "ubuntu-22.04",
		"kernel": "6.8.0-1012-azure",
	}, facts.ReportFields())
}

func TestFactsCollectorMissingSources(t *testing.T) {
	dir := t.TempDir()
	facts := NewFactsCollector(filepath.Join(dir, "a"), filepath.Join(dir, "b"), zerolog.Nop()).Collect()
	assert.Empty(t, facts.ReportFields())

	var none *OSFacts
	assert.Empty(t, none.ReportFields())
}
