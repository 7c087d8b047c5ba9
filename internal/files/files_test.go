package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"

func newTestWriter(t *testing.T, now time.Time) *Writer {
	t.Helper()
	root := t.TempDir()
	w, err := NewWriter(filepath.Join(root, "specs"), filepath.Join(root, "backups"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return w
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"User Login":                   "user_login",
		"two-factor auth":              "two_factor_auth",
		"  spaced  ":                   "spaced",
		"Payments/Refunds v2.1":        "payments_refunds_v2.1",
		"":                             "unnamed",
		"!!!":                          "unnamed",
		"Émoji ✨ feature":              "moji___feature",
		strings.Repeat("ab_", 30):      "ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab_ab",
		strings.Repeat("x", 49) + "_y": strings.Repeat("x", 49),
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got := Sanitize(in)
			assert.Equal(t, want, got)
			assert.LessOrEqual(t, len(got), maxNameLength)
		})
	}
}

func TestWriteSpecification(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	w := newTestWriter(t, now)
	ctx := context.Background()

	docs := map[string]string{
		"requirements.md": "# R",
		"design.md":       "# D",
		"tasks.md":        "# T",
	}
	paths, err := w.WriteSpecification(ctx, workflowID, "User Login", docs)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	dir := filepath.Join(w.OutputDir(), "user_login")
	for name, content := range docs {
		assert.Equal(t, filepath.Join(dir, name), paths[name])
		data, err := os.ReadFile(paths[name])
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
		assert.NoFileExists(t, paths[name]+".tmp")
	}
	assert.FileExists(t, filepath.Join(dir, metadataFile))

	read, err := w.ReadSpecification("User Login")
	require.NoError(t, err)
	assert.Equal(t, docs, read)
}

func TestWriteSpecification_BacksUpExisting(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	w := newTestWriter(t, now)
	ctx := context.Background()

	_, err := w.WriteSpecification(ctx, "old-workflow", "Search", map[string]string{"design.md": "v1"})
	require.NoError(t, err)
	_, err = w.WriteSpecification(ctx, workflowID, "Search", map[string]string{"design.md": "v2"})
	require.NoError(t, err)

	backup := filepath.Join(w.backupDir, "design_20250601_123045_3fa85f64.md")
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	current, err := os.ReadFile(filepath.Join(w.FeatureDir("Search"), "design.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(current))
}

func TestWriteSpecification_RejectsPathNames(t *testing.T) {
	w := newTestWriter(t, time.Now())
	for _, name := range []string{"../escape.md", "sub/dir.md", "", metadataFile} {
		_, err := w.WriteSpecification(context.Background(), workflowID, "f", map[string]string{name: "x"})
		assert.ErrorIs(t, err, ErrInvalidFileName, name)
	}
}

func TestReadSpecification_NotFound(t *testing.T) {
	w := newTestWriter(t, time.Now())
	_, err := w.ReadSpecification("missing")
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestListFeatures(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	root := t.TempDir()
	w, err := NewWriter(filepath.Join(root, "specs"), filepath.Join(root, "backups"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.WriteSpecification(ctx, "wf-old", "Older Feature", map[string]string{"tasks.md": "t"})
	require.NoError(t, err)
	now = base.Add(time.Hour)
	_, err = w.WriteSpecification(ctx, "wf-new", "Newer Feature", map[string]string{"tasks.md": "t"})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(w.OutputDir(), "manual"), 0o755))

	features, err := w.ListFeatures()
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, "Newer Feature", features[0].FeatureName)
	assert.Equal(t, "wf-new", features[0].WorkflowID)
	assert.Equal(t, "Older Feature", features[1].FeatureName)
	assert.Equal(t, "manual", features[2].FeatureName)
	assert.Nil(t, features[2].GeneratedAt)
}

func TestDeleteFeature(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	w := newTestWriter(t, now)
	ctx := context.Background()

	_, err := w.WriteSpecification(ctx, workflowID, "Gone", map[string]string{"requirements.md": "r"})
	require.NoError(t, err)

	require.NoError(t, w.DeleteFeature(ctx, "Gone", true))
	assert.NoDirExists(t, w.FeatureDir("Gone"))
	assert.FileExists(t, filepath.Join(w.backupDir, "gone_deleted_20250601_080000", "requirements.md"))

	assert.ErrorIs(t, w.DeleteFeature(ctx, "Gone", false), ErrFeatureNotFound)
}

func TestCleanupBackups(t *testing.T) {
	now := time.Now()
	w := newTestWriter(t, now)

	oldFile := filepath.Join(w.backupDir, "old.md")
	newFile := filepath.Join(w.backupDir, "new.md")
	require.NoError(t, os.WriteFile(oldFile, []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(newFile, []byte("n"), 0o644))
	old := now.Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, old, old))

	removed, err := w.CleanupBackups(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, newFile)
}
