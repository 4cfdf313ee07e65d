// Package media writes media files into the host's upload storage and
// produces the derived representations recorded in the content index.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Library writes files below the host's upload root. Writes follow the
// crash-only pattern: temp file, fsync, rename.
type Library struct {
	// Root is the uploads directory. Temp files live in Root/.tmp.
	Root string
}

// NewLibrary creates a Library rooted at the given directory, creating the
// root and its temp directory if they do not exist.
func NewLibrary(root string) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads directory %q: %w", root, err)
	}
	tmpDir := filepath.Join(root, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &Library{Root: root}, nil
}

// CleanTempFiles removes all files in the .tmp directory. Any temp files
// left behind are incomplete writes from a previous crash.
func (l *Library) CleanTempFiles() error {
	tmpDir := filepath.Join(l.Root, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// WriteFile atomically writes body to dir/name and returns the final path.
// name must be a bare file name.
func (l *Library) WriteFile(ctx context.Context, dir, name string, body []byte) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %q: %w", dir, err)
	}
	finalPath := filepath.Join(dir, name)

	tmpPath := filepath.Join(l.Root, ".tmp", "tmp-"+uuid.NewString())
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := tmpFile.Write(body); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing %q: %w", name, err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("setting permissions on %q: %w", name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file to %q: %w", finalPath, err)
	}
	return finalPath, nil
}

// DetectContentType sniffs the content type of the file at path. When the
// content is not recognized it falls back to the file extension.
func DetectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err == nil && !mt.Is("application/octet-stream") {
		return mt.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
