package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/huddle/internal/registry"
)

// NewRegistry opens a registry in t's temp dir and closes it on cleanup.
func NewRegistry(t testing.TB) *registry.Registry {
	t.Helper()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "huddle.db"))
	require.NoError(t, err, "failed to open registry")

	t.Cleanup(func() {
		_ = reg.Close()
	})
	return reg
}
