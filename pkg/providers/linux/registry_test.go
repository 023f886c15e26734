package linux

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vminit/pkg/engine"
)

func backendNames(list engine.BackendList) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.Name()
	}
	return out
}

func TestRegistryDefaults(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Runner: newFakeRunner(), Logger: zerolog.Nop()})

	b, err := reg.Backends(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{KindUseradd}, backendNames(b.User))
	assert.Equal(t, []string{KindPasswd}, backendNames(b.Password))
	assert.Equal(t, []string{KindHostnamectl}, backendNames(b.Hostname))
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Runner: newFakeRunner(), Logger: zerolog.Nop()})

	b, err := reg.Backends(
		[]string{KindAdduser, KindUseradd},
		[]string{KindUsermod, KindPasswd},
		[]string{KindHostname, KindHostnamectl},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{KindAdduser, KindUseradd}, backendNames(b.User))
	assert.Equal(t, []string{KindUsermod, KindPasswd}, backendNames(b.Password))
	assert.Equal(t, []string{KindHostname, KindHostnamectl}, backendNames(b.Hostname))
}

func TestRegistryRejectsUnknownKinds(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Runner: newFakeRunner(), Logger: zerolog.Nop()})

	_, err := reg.Backends([]string{"pw"}, nil, nil)
	assert.ErrorContains(t, err, `unknown user backend "pw"`)

	_, err = reg.Backends(nil, []string{KindHostname}, nil)
	assert.ErrorContains(t, err, `unknown password backend "hostname"`)
}
