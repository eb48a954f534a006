package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvdisk/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// testEnv returns a work dir and an env whose XDG_CONFIG_HOME is isolated.
func testEnv(t *testing.T) (string, string, []string) {
	t.Helper()

	root := t.TempDir()
	workDir := filepath.Join(root, "work")
	xdg := filepath.Join(root, "xdg")

	require.NoError(t, os.MkdirAll(workDir, 0o750))

	return workDir, xdg, []string{"XDG_CONFIG_HOME=" + xdg}
}

func Test_Load_Defaults_When_No_Files(t *testing.T) {
	t.Parallel()

	workDir, _, env := testEnv(t)

	cfg, sources, err := config.Load(workDir, "", config.Overrides{}, env)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, config.Sources{}, sources)
}

func Test_Load_Precedence(t *testing.T) {
	t.Parallel()

	workDir, xdg, env := testEnv(t)
	globalPath := filepath.Join(xdg, "kvdisk", "config.json")
	projectPath := filepath.Join(workDir, config.FileName)

	writeFile(t, globalPath, `{
		// global defaults
		"cache_file": "/global/kv.bin",
		"default_ttl": "1h",
		"log_level": "warn",
	}`)
	writeFile(t, projectPath, `{"cache_file": "project.bin", "default_ttl": "5m"}`)

	cfg, sources, err := config.Load(workDir, "", config.Overrides{}, env)
	require.NoError(t, err)
	assert.Equal(t, config.Config{CacheFile: "project.bin", DefaultTTL: 5 * time.Minute, LogLevel: "warn"}, cfg)
	assert.Equal(t, config.Sources{Global: globalPath, Project: projectPath}, sources)

	ttl := time.Duration(0)
	level := "debug"
	cfg, _, err = config.Load(workDir, "", config.Overrides{DefaultTTL: &ttl, LogLevel: &level}, env)
	require.NoError(t, err)
	assert.Equal(t, config.Config{CacheFile: "project.bin", DefaultTTL: 0, LogLevel: "debug"}, cfg)
}

func Test_Load_Explicit_Config_Replaces_Project_File(t *testing.T) {
	t.Parallel()

	workDir, _, env := testEnv(t)

	writeFile(t, filepath.Join(workDir, config.FileName), `{"cache_file": "project.bin"}`)
	writeFile(t, filepath.Join(workDir, "conf", "custom.json"), `{"cache_file": "custom.bin"}`)

	cfg, sources, err := config.Load(workDir, "conf/custom.json", config.Overrides{}, env)
	require.NoError(t, err)
	assert.Equal(t, "custom.bin", cfg.CacheFile)
	assert.Equal(t, filepath.Join(workDir, "conf", "custom.json"), sources.Project)
}

func Test_Load_CacheFile_Override(t *testing.T) {
	t.Parallel()

	workDir, _, env := testEnv(t)
	writeFile(t, filepath.Join(workDir, config.FileName), `{"cache_file": "project.bin"}`)

	file := "/tmp/override.bin"
	cfg, _, err := config.Load(workDir, "", config.Overrides{CacheFile: &file}, env)
	require.NoError(t, err)
	assert.Equal(t, file, cfg.CacheFile)
}

func Test_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "invalid json", content: `{"cache_file": `, wantErr: config.ErrInvalid},
		{name: "empty cache file", content: `{"cache_file": ""}`, wantErr: config.ErrCacheFileEmpty},
		{name: "bad ttl", content: `{"default_ttl": "soon"}`, wantErr: config.ErrInvalid},
		{name: "negative ttl", content: `{"default_ttl": "-1s"}`, wantErr: config.ErrNegativeTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			workDir, _, env := testEnv(t)
			writeFile(t, filepath.Join(workDir, config.FileName), tt.content)

			_, _, err := config.Load(workDir, "", config.Overrides{}, env)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func Test_Load_Rejects_Unknown_Log_Level(t *testing.T) {
	t.Parallel()

	workDir, _, env := testEnv(t)
	writeFile(t, filepath.Join(workDir, config.FileName), `{"log_level": "chatty"}`)

	_, _, err := config.Load(workDir, "", config.Overrides{}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

func Test_Load_Missing_Explicit_Config(t *testing.T) {
	t.Parallel()

	workDir, _, env := testEnv(t)

	_, _, err := config.Load(workDir, "nope.json", config.Overrides{}, env)
	require.ErrorIs(t, err, config.ErrFileNotFound)
}

func Test_Format(t *testing.T) {
	t.Parallel()

	out, err := config.Format(config.Config{CacheFile: "kv.bin", DefaultTTL: time.Minute, LogLevel: "info"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cache_file": "kv.bin", "default_ttl": "1m0s", "log_level": "info"}`, out)
}
