package migrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	expectedFiles := []string{
		"000001_config_versions.up.sql",
		"000001_config_versions.down.sql",
		"000002_audit_logs.up.sql",
		"000002_audit_logs.down.sql",
	}
	require.Len(t, entries, len(expectedFiles))

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	for _, f := range expectedFiles {
		assert.True(t, names[f], "missing migration file %s", f)
	}
}

func TestMigrationsPaired(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	ups := make(map[string]bool)
	downs := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("migration %s is neither up nor down", name)
		}
	}
	assert.Equal(t, ups, downs, "every up migration needs a matching down")
}

func TestMigrationsCreateExpectedTables(t *testing.T) {
	data, err := migrations.ReadFile("migrations/000001_config_versions.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS config_versions")

	data, err = migrations.ReadFile("migrations/000002_audit_logs.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS audit_logs")
}
