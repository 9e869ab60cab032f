package index

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/intern"
)

func memFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return fs
}

func TestIndexAll_BasicDocumentAndOverride(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/root/db.yaml":          "host: a\nport: 5432\n",
		"/root/env=prod/db.yaml": "host: b\n",
		"/root/.ignored.yaml":    "host: ignored\n",
	})
	ix := NewIndexer(fs, intern.NewPool())

	files, err := ix.IndexAll("/root")
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "db", files[0].Document)
	assert.Equal(t, 0, files[0].Rank)
	assert.Equal(t, "db", files[1].Document)
	assert.Equal(t, 1, files[1].Rank)
	assert.True(t, files[1].Labels.Contains(files[1].Labels))
}

func TestIndexAll_FlavorSuffix(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/root/routes.web.yaml": "path: /\n",
	})
	ix := NewIndexer(fs, intern.NewPool())
	files, err := ix.IndexAll("/root")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "routes", files[0].Document)
	assert.Equal(t, "web", files[0].Flavor)
}

func TestIndexAll_TemplatePrefixes(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/root/_text.banner.yaml": "line: hi\n",
	})
	ix := NewIndexer(fs, intern.NewPool())
	files, err := ix.IndexAll("/root")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, TemplateText, files[0].Template)
	assert.Equal(t, "banner", files[0].Document)
}

func TestIndexAll_IgnoresNonYAML(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/root/readme.md": "not yaml",
	})
	ix := NewIndexer(fs, intern.NewPool())
	files, err := ix.IndexAll("/root")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIndexPaths_SkipsMissingFiles(t *testing.T) {
	fs := memFS(t, map[string]string{
		"/root/db.yaml": "host: a\n",
	})
	ix := NewIndexer(fs, intern.NewPool())
	files, err := ix.IndexPaths("/root", []string{"db.yaml", "missing.yaml"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "db", files[0].Document)
}
