package linux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vminit/pkg/engine"
)

func TestHostnamectl(t *testing.T) {
	r := newFakeRunner()
	h := NewHostnamectl(r)
	assert.Equal(t, KindHostnamectl, h.Name())

	require.NoError(t, h.Attempt(context.Background(), specFor(engine.NewUser("u", nil))))
	assert.Equal(t, Command{Name: "hostnamectl", Args: []string{"set-hostname", "vm-host"}}, r.last())

	r.fail["hostnamectl"] = 1
	assert.ErrorIs(t, h.Attempt(context.Background(), specFor(engine.NewUser("u", nil))), engine.ErrSubprocessFailed)
}

func TestHostnameWritesFile(t *testing.T) {
	r := newFakeRunner()
	file := filepath.Join(t.TempDir(), "hostname")
	h := NewHostname(r, file)
	assert.Equal(t, KindHostname, h.Name())

	require.NoError(t, h.Attempt(context.Background(), specFor(engine.NewUser("u", nil))))
	assert.Equal(t, Command{Name: "hostname", Args: []string{"vm-host"}}, r.last())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "vm-host\n", string(data))
}

func TestHostnameCommandFails(t *testing.T) {
	r := newFakeRunner()
	r.fail["hostname"] = 1
	file := filepath.Join(t.TempDir(), "hostname")

	err := NewHostname(r, file).Attempt(context.Background(), specFor(engine.NewUser("u", nil)))
	assert.ErrorIs(t, err, engine.ErrSubprocessFailed)
	assert.NoFileExists(t, file)
}

func TestHostnameUnwritableFile(t *testing.T) {
	r := newFakeRunner()
	file := filepath.Join(t.TempDir(), "missing", "hostname")

	err := NewHostname(r, file).Attempt(context.Background(), specFor(engine.NewUser("u", nil)))
	assert.Equal(t, engine.ErrorKindIO, engine.KindOf(err))
}
