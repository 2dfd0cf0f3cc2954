package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	name, up, err := Load(Up)
	require.NoError(t, err)
	assert.Equal(t, "001_create_snapshot.up.sql", name)
	assert.Contains(t, up, "CREATE TABLE IF NOT EXISTS reading_snapshots")

	name, down, err := Load(Down)
	require.NoError(t, err)
	assert.Equal(t, "001_create_snapshot.down.sql", name)
	assert.Contains(t, down, "DROP TABLE IF EXISTS reading_snapshots")

	_, _, err = Load("sideways")
	assert.Error(t, err)
}
