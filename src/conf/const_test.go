package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullVersion(t *testing.T) {
	t.Parallel()
	version := FullVersion()
	assert.Equal(t, fmt.Sprintf("%v Copyright (C) %v", EXMATVERSION, time.Now().Year()), version)
}

func TestCopyright(t *testing.T) {
	t.Parallel()
	copyright := Copyright()
	assert.Equal(t, fmt.Sprintf("Copyright (C) %v", time.Now().Year()), copyright)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, FILENAME)
		require.NoError(t, os.WriteFile(path, []byte("[vm]\nmax-native-calls = 12\n\n[log]\nverbosity = 2\n"), 0o600))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.VM.MaxNativeCalls)
		assert.Equal(t, INITIALSTACKSIZE, cfg.VM.InitialStackSize)
		assert.Equal(t, 2, cfg.Log.Verbosity)
		assert.Equal(t, path, cfg.Path)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		require.ErrorContains(t, err, "cannot read")
	})

	t.Run("bad toml", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), FILENAME)
		require.NoError(t, os.WriteFile(path, []byte("[vm\n"), 0o600))
		_, err := Load(path)
		require.ErrorContains(t, err, "parse error")
	})

	t.Run("invalid limits", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), FILENAME)
		require.NoError(t, os.WriteFile(path, []byte("[vm]\ninitial-stack-size = 64\nmax-stack-size = 8\n"), 0o600))
		_, err := Load(path)
		require.ErrorContains(t, err, "max-stack-size")
	})

	t.Run("find without file", func(t *testing.T) {
		t.Parallel()
		cfg, err := FindAndLoad(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}
