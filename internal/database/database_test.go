package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTarget(t *testing.T) {
	name, admin, err := adminTarget("postgres://u:p@db:5432/unifier?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "unifier", name)
	assert.Equal(t, "postgres://u:p@db:5432/postgres?sslmode=disable", admin)

	name, _, err = adminTarget("postgres://u:p@db:5432/postgres")
	require.NoError(t, err)
	assert.Empty(t, name)

	_, _, err = adminTarget("://bad")
	assert.Error(t, err)
}
