package address

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/shadowtrade/internal/domain"
)

func testProgramID() domain.Pubkey {
	return domain.Pubkey(sha256.Sum256([]byte("test-program")))
}

func TestFind_IsDeterministicAndOffCurve(t *testing.T) {
	seeds := [][]byte{StrategySeed, []byte("owner-bytes")}

	addr1, bump1, err := Find(seeds, testProgramID())
	require.NoError(t, err)
	addr2, bump2, err := Find(seeds, testProgramID())
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, IsOnCurve(addr1))

	recreated, err := Create([][]byte{StrategySeed, []byte("owner-bytes"), {bump1}}, testProgramID())
	require.NoError(t, err)
	assert.Equal(t, addr1, recreated)
}

func TestFind_DependsOnProgramAndSeeds(t *testing.T) {
	other := domain.Pubkey(sha256.Sum256([]byte("other-program")))

	a, _, err := Find([][]byte{RegistrySeed}, testProgramID())
	require.NoError(t, err)
	b, _, err := Find([][]byte{RegistrySeed}, other)
	require.NoError(t, err)
	c, _, err := Find([][]byte{StrategySeed}, testProgramID())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCreate_SeedLimits(t *testing.T) {
	_, err := Create([][]byte{make([]byte, MaxSeedLength+1)}, testProgramID())
	assert.ErrorIs(t, err, ErrSeedTooLong)

	tooMany := make([][]byte, MaxSeeds+1)
	_, err = Create(tooMany, testProgramID())
	assert.ErrorIs(t, err, ErrTooManySeeds)
}

func TestIsOnCurve_BasePoint(t *testing.T) {
	// Compressed ed25519 base point: y = 4/5, sign bit clear.
	base := domain.Pubkey{0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66}
	assert.True(t, IsOnCurve(base))
}

func TestDeriver_RegistryAndStrategy(t *testing.T) {
	d, err := NewDeriver(testProgramID(), 8)
	require.NoError(t, err)

	reg, err := d.Registry()
	require.NoError(t, err)
	require.NoError(t, d.VerifyRegistry(reg.Address, reg.Bump))

	var alice, bob domain.Pubkey
	alice[0], bob[0] = 1, 2

	sa, err := d.Strategy(alice)
	require.NoError(t, err)
	sb, err := d.Strategy(bob)
	require.NoError(t, err)

	assert.NotEqual(t, sa.Address, sb.Address)
	assert.NotEqual(t, reg.Address, sa.Address)

	again, err := d.Strategy(alice)
	require.NoError(t, err)
	assert.Equal(t, sa, again)

	direct, bump, err := Find([][]byte{StrategySeed, alice[:]}, testProgramID())
	require.NoError(t, err)
	assert.Equal(t, sa.Address, direct)
	assert.Equal(t, sa.Bump, bump)
}

func TestDeriver_VerifyRejectsMismatch(t *testing.T) {
	d, err := NewDeriver(testProgramID(), 8)
	require.NoError(t, err)

	var alice, bob domain.Pubkey
	alice[0], bob[0] = 1, 2
	sa, err := d.Strategy(alice)
	require.NoError(t, err)

	assert.NoError(t, d.VerifyStrategy(alice, sa.Address, sa.Bump))
	assert.ErrorIs(t, d.VerifyStrategy(bob, sa.Address, sa.Bump), domain.ErrInvalidDerivation)
	assert.ErrorIs(t, d.VerifyStrategy(alice, sa.Address, sa.Bump-1), domain.ErrInvalidDerivation)

	reg, err := d.Registry()
	require.NoError(t, err)
	assert.ErrorIs(t, d.VerifyRegistry(sa.Address, reg.Bump), domain.ErrInvalidDerivation)
}
