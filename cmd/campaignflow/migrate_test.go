package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMigrateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := migrateMain(context.Background(), args, &out)
	return out.String(), err
}

func TestMigrateMain_SQLiteLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cf.db")
	db := []string{"--db-type", "sqlite", "--db-url", dbPath}

	out, err := runMigrateCmd(t, append([]string{"version"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet.")

	_, err = runMigrateCmd(t, append([]string{"up"}, db...)...)
	require.NoError(t, err)

	out, err = runMigrateCmd(t, append([]string{"status"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Pending: 0")

	_, err = runMigrateCmd(t, append([]string{"goto", "1"}, db...)...)
	require.NoError(t, err)
	out, err = runMigrateCmd(t, append([]string{"version"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	_, err = runMigrateCmd(t, append([]string{"reset"}, db...)...)
	require.NoError(t, err)
	out, err = runMigrateCmd(t, append([]string{"version"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet.")
}

func TestMigrateMain_Errors(t *testing.T) {
	out, err := runMigrateCmd(t, "sideways")
	assert.ErrorContains(t, err, "unknown migrate subcommand")
	assert.Contains(t, out, "Subcommands:")

	_, err = runMigrateCmd(t, "goto")
	assert.ErrorContains(t, err, "<version>")

	_, err = runMigrateCmd(t, "goto", "abc", "--db-type", "sqlite", "--db-url", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "invalid version number")

	_, err = runMigrateCmd(t, "down", "--steps", "0", "--db-type", "sqlite", "--db-url", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "--steps")

	_, err = runMigrateCmd(t, "up", "--db-type", "oracle", "--db-url", "x")
	assert.Error(t, err)
}

func TestMigrateMain_Help(t *testing.T) {
	out, err := runMigrateCmd(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "campaignflow migrate <subcommand>")
}
