package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLMapping(t *testing.T) {
	targets, err := Parse([]byte(`
targets:
  - id: job-1
    url: https://example.test/jobs/1
    title: Backend Engineer
    organization: Acme
    age: 48h
  - id: job-2
    content: "Please complete the captcha"
    repost: true
`))
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "job-1", targets[0].ID)
	assert.Equal(t, "Acme", targets[0].Organization)
	assert.Equal(t, 48*time.Hour, targets[0].Age)
	assert.True(t, targets[1].Repost)
}

func TestParseJSONArray(t *testing.T) {
	targets, err := Parse([]byte(`[{"id": "a", "url": "https://a.test"}, {"id": "b"}, {"id": "a"}]`))
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "https://a.test", targets[0].URL)
	assert.Equal(t, "b", targets[1].ID)
}

func TestParseRejectsMissingID(t *testing.T) {
	_, err := Parse([]byte("- url: https://x.test\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestParseEmpty(t *testing.T) {
	targets, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestLoadAndNext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: one\n- id: two\n"), 0o600))

	src, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Remaining())

	ctx := context.Background()
	first, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", first.ID)

	_, ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	_, err = Load(" ")
	require.Error(t, err)
}

func TestNextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := NewSlice(nil).Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}
