package stores

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUUID(t *testing.T, dir, value string) string {
	t.Helper()
	path := filepath.Join(dir, "product_uuid")
	require.NoError(t, os.WriteFile(path, []byte(value), 0o644))
	return path
}

func TestSwapUUIDFields(t *testing.T) {
	in := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")

	swapped := SwapUUIDFields(in)
	assert.Equal(t, "33221100-5544-7766-8899-aabbccddeeff", swapped.String())
	assert.Equal(t, in, SwapUUIDFields(swapped))
}

func TestSwapUUIDFieldsRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := uuid.New()
		assert.Equal(t, id, SwapUUIDFields(SwapUUIDFields(id)))
	}
}

func TestDeriveGen1(t *testing.T) {
	dir := t.TempDir()
	path := writeUUID(t, dir, "00112233-4455-6677-8899-AABBCCDDEEFF\n")

	src := NewIdentitySource(path, []string{filepath.Join(dir, "no-efi")}, zerolog.Nop())
	assert.Equal(t, Gen1, src.Generation())

	id, ok := src.Derive()
	require.True(t, ok)
	assert.Equal(t, "33221100-5544-7766-8899-aabbccddeeff", id)
}

func TestDeriveGen2(t *testing.T) {
	dir := t.TempDir()
	path := writeUUID(t, dir, "  00112233-4455-6677-8899-aabbccddeeff \n")
	efi := filepath.Join(dir, "efi")
	require.NoError(t, os.Mkdir(efi, 0o755))

	src := NewIdentitySource(path, []string{filepath.Join(dir, "missing"), efi}, zerolog.Nop())
	assert.Equal(t, Gen2, src.Generation())

	id, ok := src.Derive()
	require.True(t, ok)
	assert.Equal(t, "00112233-4455-6677-8899-aabbccddeeff", id)
}

func TestDeriveMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()

	src := NewIdentitySource(filepath.Join(dir, "absent"), []string{}, zerolog.Nop())
	_, ok := src.Derive()
	assert.False(t, ok)

	src = NewIdentitySource(writeUUID(t, dir, " \n"), []string{}, zerolog.Nop())
	_, ok = src.Derive()
	assert.False(t, ok)
}

func TestDeriveUnparseableGen1(t *testing.T) {
	dir := t.TempDir()
	src := NewIdentitySource(writeUUID(t, dir, "not-a-uuid"), []string{}, zerolog.Nop())

	id, ok := src.Derive()
	require.True(t, ok)
	assert.Equal(t, "not-a-uuid", id)
}

func TestStaticIdentity(t *testing.T) {
	id, ok := StaticIdentity("vm-1").Derive()
	assert.True(t, ok)
	assert.Equal(t, "vm-1", id)

	_, ok = StaticIdentity("").Derive()
	assert.False(t, ok)
}
