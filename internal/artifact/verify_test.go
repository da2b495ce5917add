package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVerifyHTML(t *testing.T) {
	path := writeArtifact(t, `<!DOCTYPE html>
<html><head><title>wfcommons documentation</title></head>
<body><a href="api.html">API</a><a href="usage.html">Usage</a><a name="x">anchor</a></body></html>`)

	info, err := VerifyHTML(path)
	require.NoError(t, err)
	assert.Equal(t, "wfcommons documentation", info.Title)
	assert.Equal(t, 2, info.Links)
}

func TestVerifyHTMLMissingTitle(t *testing.T) {
	path := writeArtifact(t, `<html><body><p>no title here</p></body></html>`)
	_, err := VerifyHTML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no <title>")
}

func TestVerifyHTMLMissingFile(t *testing.T) {
	_, err := VerifyHTML(filepath.Join(t.TempDir(), "absent.html"))
	assert.Error(t, err)
}
