// Package files persists rendered specification documents.
//
// Each feature gets a directory under the output root named after the
// sanitized feature name. Existing documents are copied to the backup
// directory before being replaced, and every write goes through a temporary
// file followed by a rename.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Mantoine56/spec-bot/internal/config"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"go.uber.org/zap"
)

const (
	metadataFile  = "metadata.json"
	maxNameLength = 50
	backupLayout  = "20060102_150405"
	dirPerm       = 0o755
	filePerm      = 0o644
)

var (
	// ErrFeatureNotFound is returned when no directory exists for a feature.
	ErrFeatureNotFound = errors.New("feature not found")
	// ErrInvalidFileName is returned for document names that are not plain file names.
	ErrInvalidFileName = errors.New("invalid file name")
)

// Metadata is written next to the documents of each feature.
type Metadata struct {
	WorkflowID  string            `json:"workflow_id"`
	FeatureName string            `json:"feature_name"`
	GeneratedAt time.Time         `json:"generated_at"`
	Files       []string          `json:"files"`
	FilePaths   map[string]string `json:"file_paths"`
}

// FeatureInfo describes one feature directory.
type FeatureInfo struct {
	FeatureName string     `json:"feature_name"`
	Directory   string     `json:"directory"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	Files       []string   `json:"files"`
}

// Writer reads and writes specification directories.
type Writer struct {
	outputDir string
	backupDir string
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates both directories if needed.
func NewWriter(outputDir, backupDir string, opts ...Option) (*Writer, error) {
	w := &Writer{
		outputDir: outputDir,
		backupDir: backupDir,
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, dir := range []string{outputDir, backupDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return w, nil
}

// NewFromConfig creates a Writer for the configured directories.
func NewFromConfig(c config.FilesConfig, opts ...Option) (*Writer, error) {
	return NewWriter(c.OutputDir, c.BackupDir, opts...)
}

// OutputDir returns the root output directory.
func (w *Writer) OutputDir() string {
	return w.outputDir
}

// FeatureDir returns the directory used for featureName.
func (w *Writer) FeatureDir(featureName string) string {
	return filepath.Join(w.outputDir, Sanitize(featureName))
}

// WriteSpecification writes docs (file name -> content) for a feature and
// returns file name -> written path.
func (w *Writer) WriteSpecification(ctx context.Context, workflowID, featureName string, docs map[string]string) (map[string]string, error) {
	dir := w.FeatureDir(featureName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create feature directory: %w", err)
	}

	names := make([]string, 0, len(docs))
	for name := range docs {
		if err := checkName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	written := make(map[string]string, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path := filepath.Join(dir, name)

		if _, err := os.Stat(path); err == nil {
			backup, err := w.backup(path, workflowID)
			if err != nil {
				return written, fmt.Errorf("backup %s: %w", name, err)
			}
			w.logger.Debug(ctx, "backed up existing document", zap.String("path", backup))
		}

		if err := writeAtomic(path, []byte(docs[name])); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written[name] = path
	}

	meta := Metadata{
		WorkflowID:  workflowID,
		FeatureName: featureName,
		GeneratedAt: w.now().UTC(),
		Files:       names,
		FilePaths:   written,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return written, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metadataFile), data); err != nil {
		return written, fmt.Errorf("write metadata: %w", err)
	}

	w.logger.Info(ctx, "wrote specification",
		zap.String("directory", dir),
		zap.Int("files", len(written)))
	return written, nil
}

// ReadSpecification returns the documents stored for featureName.
func (w *Writer) ReadSpecification(featureName string) (map[string]string, error) {
	dir := w.FeatureDir(featureName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, featureName)
		}
		return nil, err
	}

	docs := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		docs[e.Name()] = string(data)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, featureName)
	}
	return docs, nil
}

// ListFeatures lists feature directories, newest first. Directories without
// readable metadata are listed by directory name.
func (w *Writer) ListFeatures() ([]FeatureInfo, error) {
	entries, err := os.ReadDir(w.outputDir)
	if err != nil {
		return nil, err
	}

	var out []FeatureInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.outputDir, e.Name())
		info := FeatureInfo{FeatureName: e.Name(), Directory: dir}

		var meta Metadata
		if data, err := os.ReadFile(filepath.Join(dir, metadataFile)); err == nil && json.Unmarshal(data, &meta) == nil {
			info.FeatureName = meta.FeatureName
			info.WorkflowID = meta.WorkflowID
			generated := meta.GeneratedAt
			info.GeneratedAt = &generated
			info.Files = meta.Files
		} else {
			files, _ := os.ReadDir(dir)
			for _, f := range files {
				if !f.IsDir() {
					info.Files = append(info.Files, f.Name())
				}
			}
		}
		out = append(out, info)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].GeneratedAt, out[j].GeneratedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

// DeleteFeature removes a feature directory, copying it to the backup
// directory first when backup is set.
func (w *Writer) DeleteFeature(ctx context.Context, featureName string, backup bool) error {
	dir := w.FeatureDir(featureName)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFeatureNotFound, featureName)
		}
		return err
	}

	if backup {
		dst := filepath.Join(w.backupDir, Sanitize(featureName)+"_deleted_"+w.now().UTC().Format(backupLayout))
		if err := copyDir(dir, dst); err != nil {
			return fmt.Errorf("backup feature directory: %w", err)
		}
		w.logger.Info(ctx, "backed up feature before deletion", zap.String("path", dst))
	}
	return os.RemoveAll(dir)
}

// CleanupBackups removes backup files older than olderThan and returns how
// many were removed.
func (w *Writer) CleanupBackups(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(w.backupDir)
	if err != nil {
		return 0, err
	}
	cutoff := w.now().Add(-olderThan)

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.backupDir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		w.logger.Info(ctx, "cleaned up old backups", zap.Int("removed", removed))
	}
	return removed, nil
}

func (w *Writer) backup(path, workflowID string) (string, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	id := workflowID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s_%s_%s%s", stem, w.now().UTC().Format(backupLayout), id, ext)
	dst := filepath.Join(w.backupDir, name)
	return dst, copyFile(path, dst)
}

// Sanitize maps a feature name to a safe directory name.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.ToLower(strings.Trim(b.String(), "_"))
	if out == "" {
		return "unnamed"
	}
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "_")
	}
	return out
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || name == metadataFile {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}

// writeAtomic writes data to path via path.tmp and a rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}
		return copyFile(path, target)
	})
}
