// Package retrieval restores media files that are missing locally from the
// object store and serves them in the same request.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mediaoffload/mediaoffload/internal/index"
	"github.com/mediaoffload/mediaoffload/internal/keys"
	"github.com/mediaoffload/mediaoffload/internal/media"
	"github.com/mediaoffload/mediaoffload/internal/metrics"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
)

// ErrNotFound is returned for every retrieval failure. The cause is only
// logged.
var ErrNotFound = errors.New("retrieval: not found")

// ContentIndex records materialized files.
type ContentIndex interface {
	InsertAttachment(ctx context.Context, a *index.Attachment) (int64, error)
	UpdateMetadata(ctx context.Context, id int64, meta json.RawMessage) error
}

// UploadWriter writes files into the host's upload storage.
type UploadWriter interface {
	WriteFile(ctx context.Context, dir, name string, body []byte) (string, error)
}

// DerivativeGenerator produces scaled variants of a materialized image.
type DerivativeGenerator interface {
	Generate(ctx context.Context, file, mimeType string) (*media.Metadata, error)
}

// Config wires a Service to the host.
type Config struct {
	// DocumentRoot is where request paths are resolved.
	DocumentRoot string
	// ContentRoot is the root keys are derived against.
	ContentRoot string
	Index       ContentIndex
	Writer      UploadWriter
	// Derivatives is optional.
	Derivatives DerivativeGenerator
	Logger      *slog.Logger
}

// Result is a successfully materialized file.
type Result struct {
	Body         []byte
	ContentType  string
	AttachmentID int64
	File         string
}

// Service handles requests for files that do not exist locally.
type Service struct {
	store objectstore.Client
	cfg   Config
}

// NewService creates a Service. With a nil store every request is not
// found.
func NewService(store objectstore.Client, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{store: store, cfg: cfg}
}

// LocalPath maps a request path to a file below the document root, or ""
// when it would land outside it.
func (s *Service) LocalPath(requestPath string) string {
	rel := strings.TrimPrefix(path.Clean("/"+requestPath), "/")
	if rel == "" {
		return ""
	}
	local := filepath.Join(s.cfg.DocumentRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(local, keys.NormalizeRoot(s.cfg.DocumentRoot)) {
		return ""
	}
	return local
}

// Retrieve fetches the object behind requestPath, writes it to its local
// location and records it in the index.
func (s *Service) Retrieve(ctx context.Context, requestPath string) (*Result, error) {
	res, err := s.retrieve(ctx, requestPath)
	if err != nil {
		return nil, s.fail(requestPath, err)
	}
	metrics.RetrievalsTotal.WithLabelValues("served").Inc()
	return res, nil
}

// Check reports whether Retrieve would find an object for requestPath and
// the content type it would be served with. Nothing is written.
func (s *Service) Check(ctx context.Context, requestPath string) (string, error) {
	local, key, err := s.resolve(ctx, requestPath)
	if err != nil {
		return "", s.fail(requestPath, err)
	}
	metrics.RetrievalsTotal.WithLabelValues("checked").Inc()
	s.cfg.Logger.Debug("media available", "key", key)
	return media.DetectContentType(local), nil
}

// fail records the outcome of a failed request and collapses err to
// ErrNotFound.
func (s *Service) fail(requestPath string, err error) error {
	outcome := "not_found"
	if !errors.Is(err, ErrNotFound) {
		outcome = "failed"
		s.cfg.Logger.Warn("retrieval failed", "path", requestPath, "error", err)
	}
	metrics.RetrievalsTotal.WithLabelValues(outcome).Inc()
	return ErrNotFound
}

// resolve maps requestPath to its local file and key, and confirms the
// object exists remotely. A file already present locally is not found:
// the web server serves it, and retrieving it again would duplicate its
// index record.
func (s *Service) resolve(ctx context.Context, requestPath string) (string, string, error) {
	if s.store == nil {
		return "", "", ErrNotFound
	}
	local := s.LocalPath(requestPath)
	key := keys.Derive(local, s.cfg.ContentRoot)
	if key == "" {
		return "", "", ErrNotFound
	}
	if _, err := os.Stat(local); err == nil {
		s.cfg.Logger.Debug("file present locally", "path", local)
		return "", "", ErrNotFound
	}

	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("checking %q: %w", key, err)
	}
	if !ok {
		return "", "", ErrNotFound
	}
	return local, key, nil
}

func (s *Service) retrieve(ctx context.Context, requestPath string) (*Result, error) {
	_, key, err := s.resolve(ctx, requestPath)
	if err != nil {
		return nil, err
	}

	obj, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %q: %w", key, err)
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(obj.Body).String()
	}

	name := keys.Base(key)
	target := keys.Path(key, s.cfg.ContentRoot)
	file, err := s.cfg.Writer.WriteFile(ctx, filepath.Dir(target), name, obj.Body)
	if err != nil {
		return nil, fmt.Errorf("writing %q: %w", target, err)
	}

	id, err := s.cfg.Index.InsertAttachment(ctx, &index.Attachment{
		GUID:     target,
		File:     file,
		MimeType: contentType,
		Title:    strings.TrimSuffix(name, filepath.Ext(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("indexing %q: %w", file, err)
	}

	s.generateDerivatives(ctx, id, file, contentType)

	s.cfg.Logger.Info("media retrieved", "key", key, "file", file, "attachment_id", id)
	return &Result{Body: obj.Body, ContentType: contentType, AttachmentID: id, File: file}, nil
}

func (s *Service) generateDerivatives(ctx context.Context, id int64, file, contentType string) {
	if s.cfg.Derivatives == nil {
		return
	}
	meta, err := s.cfg.Derivatives.Generate(ctx, file, contentType)
	if err != nil {
		s.cfg.Logger.Warn("generating derivatives", "file", file, "error", err)
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		s.cfg.Logger.Warn("encoding derivative metadata", "file", file, "error", err)
		return
	}
	if err := s.cfg.Index.UpdateMetadata(ctx, id, raw); err != nil {
		s.cfg.Logger.Warn("storing derivative metadata", "attachment_id", id, "error", err)
	}
}

// Handler serves Retrieve over HTTP. HEAD only checks that the object
// exists. Any failure is a bare 404.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			contentType, err := s.Check(r.Context(), r.URL.Path)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", contentType)
			w.WriteHeader(http.StatusOK)
			return
		}
		res, err := s.Retrieve(r.Context(), r.URL.Path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", res.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
		w.WriteHeader(http.StatusOK)
		w.Write(res.Body)
	})
}
