package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql", "0002_vector.sql"}, names)
}
