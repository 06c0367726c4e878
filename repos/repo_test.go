package repos

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	content := `branch = "main"
commit_prefix = "[roost] "
exclude = ["*.log", "tmp/"]
autosave = false
max_saves_per_minute = 10

[hooks]
pre_save = "make fmt"
post_save = "make notify"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(content), 0o644))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "main", m.Branch)
	assert.Equal(t, "[roost] ", m.CommitPrefix)
	assert.Equal(t, []string{"*.log", "tmp/"}, m.Exclude)
	require.NotNil(t, m.Autosave)
	assert.False(t, *m.Autosave)
	assert.Equal(t, 10, m.MaxSavesPerMinute)
	assert.Equal(t, "make fmt", m.Hooks.PreSave)
	assert.Equal(t, "make notify", m.Hooks.PostSave)
}

func TestLoadManifestMissing(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m.Autosave)
	assert.Empty(t, m.CommitPrefix)
	assert.Empty(t, m.Exclude)
}

func TestLoadManifestInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("exclude = [broken"), 0o644))

	_, err := LoadManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}
