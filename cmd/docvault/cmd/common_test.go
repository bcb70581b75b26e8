package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/config"
)

func TestResolveRoot_AbsolutizesPath(t *testing.T) {
	tmpDir := t.TempDir()
	root, err := resolveRoot(tmpDir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
}

func TestDataDirFor_IsDotDocvaultUnderRoot(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/proj", ".docvault"), dataDirFor("/tmp/proj"))
}

func TestBuildCoordinatorConfig_TranslatesNestedSections(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Documents.Exclude = []string{"**/secrets/**"}
	cfg.Chunking.ChunkSize = 500
	cfg.Contextual.Enabled = false

	coordCfg := buildCoordinatorConfig("/tmp/proj", cfg, false)

	assert.Equal(t, "/tmp/proj", coordCfg.RootDir)
	assert.Equal(t, filepath.Join("/tmp/proj", ".docvault"), coordCfg.DataDir)
	assert.Contains(t, coordCfg.Sync.ExcludeGlobs, "**/secrets/**")
	assert.Equal(t, 500, coordCfg.Sync.Chunking.ChunkSize)
	assert.False(t, coordCfg.Sync.ContextualEnabled)
	assert.Equal(t, filepath.Join("/tmp/proj", ".docvault"), coordCfg.Watcher.StoreDataDir)
}
