package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	value, err := NewULID()

	require.NoError(t, err)
	require.Len(t, value, 26)
	require.True(t, IsULID(value))
}

func TestNewULIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		value, err := NewULID()
		require.NoError(t, err)
		require.False(t, seen[value], "duplicate ULID generated")
		seen[value] = true
	}
}

func TestValidateULID(t *testing.T) {
	require.NoError(t, ValidateULID("01HQZX3Y4K6F7G8H9J0K1M2N3P"))
	require.NoError(t, ValidateULID("01hqzx3y4k6f7g8h9j0k1m2n3p"))
	require.ErrorIs(t, ValidateULID(""), ErrInvalidULID)
	require.ErrorIs(t, ValidateULID("not-a-ulid"), ErrInvalidULID)
	require.ErrorIs(t, ValidateULID("01HQZX3Y4K6F7G8H9J0K1M2N3"), ErrInvalidULID)
	// I, L, O, U are excluded from Crockford Base32
	require.ErrorIs(t, ValidateULID("01HQZX3Y4K6F7G8H9J0K1M2NIL"), ErrInvalidULID)
}

func TestFormatRegistrationNumber(t *testing.T) {
	require.Equal(t, "REG-2026-000042", FormatRegistrationNumber(2026, 42))
	require.Equal(t, "REG-2026-1234567", FormatRegistrationNumber(2026, 1234567))
}

func TestParseRegistrationNumber(t *testing.T) {
	year, seq, err := ParseRegistrationNumber("REG-2026-000042")
	require.NoError(t, err)
	require.Equal(t, 2026, year)
	require.Equal(t, int64(42), seq)

	year, seq, err = ParseRegistrationNumber(" REG-2025-1234567 ")
	require.NoError(t, err)
	require.Equal(t, 2025, year)
	require.Equal(t, int64(1234567), seq)
}

func TestParseRegistrationNumberRejectsMalformed(t *testing.T) {
	for _, value := range []string{"", "REG-26-000001", "REG-2026-1", "reg-2026-000001", "TKT-2026-000001"} {
		_, _, err := ParseRegistrationNumber(value)
		require.ErrorIs(t, err, ErrInvalidRegistrationNumber, value)
	}
}
