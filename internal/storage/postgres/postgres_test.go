package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miner-sentinel/internal/storage/repo"
)

func TestTableFor(t *testing.T) {
	got, err := tableFor(repo.FamilyBitaxe, "mining_stats")
	require.NoError(t, err)
	assert.Equal(t, "bitaxe_mining_stats", got)

	got, err = tableFor(repo.FamilyAvalon, "devices")
	require.NoError(t, err)
	assert.Equal(t, "avalon_devices", got)
}

func TestTableForRejectsUnknownFamily(t *testing.T) {
	_, err := tableFor(repo.Family("whatsminer"), "devices")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whatsminer")
}

func TestSchemaCoversAllTables(t *testing.T) {
	// Every table the store writes to must exist in the embedded schema.
	for _, table := range []string{
		"bitaxe_devices", "avalon_devices",
		"bitaxe_mining_stats", "avalon_mining_stats",
		"bitaxe_hardware_logs", "avalon_hardware_logs",
		"bitaxe_system_info", "avalon_system_info",
		"pool_stats", "collector_settings",
	} {
		assert.True(t,
			strings.Contains(schemaSQL, "CREATE TABLE IF NOT EXISTS "+table),
			"schema missing table %s", table)
	}
}
