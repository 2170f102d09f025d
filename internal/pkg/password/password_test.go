package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.Error(t, Validate("short"))
	require.NoError(t, Validate("secret"))
	require.Error(t, Validate(strings.Repeat("x", MaxLength+1)))
}

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("secret")
	require.NoError(t, err)
	require.NotEqual(t, "secret", hash)
	require.NoError(t, Compare(hash, "secret"))
	require.Error(t, Compare(hash, "Secret"))
}
