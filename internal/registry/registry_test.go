package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		r, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		r.Close()
	}

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, table := range []string{"devices", "events", "connections", "logs"} {
		var name string
		err := r.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}

	var version int
	require.NoError(t, r.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	r := &Registry{}
	assert.NoError(t, r.Close())
}

func TestPragmas(t *testing.T) {
	r := createTestRegistry(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, r.verifyPragma(tt.name, tt.expected))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	// "é" as e + combining acute accent vs precomposed.
	decomposed := "Re\u0301my's phone"
	precomposed := "R\u00e9my's phone"

	assert.Equal(t, precomposed, NormalizeName(decomposed))
	assert.Equal(t, precomposed, NormalizeName("  "+precomposed+"\t"))
}
