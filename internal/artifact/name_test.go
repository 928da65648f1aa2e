package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main.py", "README.md", ".env.example", "requirements.txt", "blog_post.md"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", " ", ".", "../etc/passwd", "a/b.txt", `a\b.txt`, "..", "x..y", "/abs"}
	for _, name := range invalid {
		err := ValidateName(name)
		require.Error(t, err, name)
		var unsafe *UnsafeArtifactName
		assert.True(t, errors.As(err, &unsafe), name)
		assert.ErrorIs(t, err, ErrUnsafeName)
	}
}

func TestHandoff_UnsafeNameDoesNotBlockOthers(t *testing.T) {
	root := t.TempDir()
	w := NewFSWriter(root)

	report, err := Handoff(context.Background(), w, "pkg", []Artifact{
		{Name: "main.py", Content: "print(1)"},
		{Name: "../escape.txt", Content: "nope"},
		{Name: "README.md", Content: "# hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "../escape.txt", report.Failures[0].Name)
	assert.ErrorIs(t, report.Failures[0].Err, ErrUnsafeName)

	data, err := os.ReadFile(filepath.Join(root, "pkg", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestPackageDir(t *testing.T) {
	now := time.Date(2025, 10, 3, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "weather_agent_20251003_140509", PackageDir("Weather Agent", now))
	assert.Equal(t, "stock_news_bot_20251003_140509", PackageDir("stock-news bot", now))
	assert.Equal(t, "generated_agent_20251003_140509", PackageDir("../", now))
}
