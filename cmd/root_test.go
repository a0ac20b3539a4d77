//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"import", "migrate", "consultants", "missions", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "consultator", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportVSACommand_Flags(t *testing.T) {
	file := importVSACmd.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "VSA_missions.xlsx", file.DefValue)

	sheet := importVSACmd.Flags().Lookup("sheet")
	require.NotNil(t, sheet)
	assert.Equal(t, "Mission", sheet.DefValue)

	dryRun := importVSACmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "false", dryRun.DefValue)
}

func TestConsultantsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range consultantsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["import"])
	assert.True(t, names["list"])

	require.NotNil(t, consultantsImportCmd.Flags().Lookup("csv"))
}

func TestMissionsListCommand_Flags(t *testing.T) {
	limit := missionsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "100", limit.DefValue)
	assert.NotNil(t, missionsListCmd.Flags().Lookup("consultant"))
	assert.NotNil(t, missionsListCmd.Flags().Lookup("code"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}
