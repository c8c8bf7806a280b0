package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv_LoadsOnlyExistingFiles(t *testing.T) {
	tmp := t.TempDir()
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "HIERARCHY_TEST_ENV_LOAD=ok\n")

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(tmp))

	_ = os.Unsetenv("HIERARCHY_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("HIERARCHY_TEST_ENV_LOAD"))
}

func TestLoadEnv_NoFiles(t *testing.T) {
	tmp := t.TempDir()
	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(tmp))

	n, err := LoadEnv([]string{".env"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHierarchyOptions_Validate(t *testing.T) {
	opts := HierarchyOptions{DefaultMaxDepth: 5, PermissionCache: " Redis "}
	require.NoError(t, opts.Validate())
	require.Equal(t, "redis", opts.PermissionCache)

	opts = HierarchyOptions{DefaultMaxDepth: 0, PermissionCache: "memory"}
	require.Error(t, opts.Validate())

	opts = HierarchyOptions{DefaultMaxDepth: 3, PermissionCache: "memcached"}
	require.Error(t, opts.Validate())
}

func TestValidateRLS(t *testing.T) {
	c := &Configuration{RLSEnforce: " ENFORCE ", Database: DatabaseOptions{User: "app"}}
	require.NoError(t, c.validateRLS())
	require.Equal(t, "enforce", c.RLSEnforce)

	c = &Configuration{RLSEnforce: "enforce", Database: DatabaseOptions{User: "postgres"}}
	require.Error(t, c.validateRLS())

	c = &Configuration{RLSEnforce: "sometimes"}
	require.Error(t, c.validateRLS())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
