// Package offload mirrors local media lifecycle events to the object store.
//
// The engine is stateless: every hook derives the key, talks to the store
// and returns. Failures never propagate to the host; they are logged and
// counted.
package offload

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mediaoffload/mediaoffload/internal/keys"
	"github.com/mediaoffload/mediaoffload/internal/media"
	"github.com/mediaoffload/mediaoffload/internal/metrics"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
)

var (
	// ErrDisabled is returned when no usable store is wired.
	ErrDisabled = errors.New("offload: store not connected")
	// ErrOutsideRoot is returned for files outside the content root.
	ErrOutsideRoot = errors.New("offload: file outside content root")
	// ErrDeleteFailed is returned when the store refused a delete.
	ErrDeleteFailed = errors.New("offload: delete failed")
)

// UploadDescriptor is what the host reports after storing a new upload.
type UploadDescriptor struct {
	File string `json:"file" doc:"Absolute local path of the uploaded file"`
	URL  string `json:"url" required:"false" doc:"Public URL of the uploaded file"`
	Type string `json:"type" required:"false" doc:"MIME type reported by the host"`
}

// AttachmentResolver resolves an attachment ID to its local path. It
// returns "" for unknown IDs.
type AttachmentResolver interface {
	AttachedFile(ctx context.Context, id int64) (string, error)
}

// Engine handles upload and delete events.
type Engine struct {
	store       objectstore.Client
	contentRoot string
	attachments AttachmentResolver
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for absorbed failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. A nil store yields an engine whose hooks are
// no-ops, which is how the service runs when the bucket is not usable.
func NewEngine(store objectstore.Client, contentRoot string, attachments AttachmentResolver, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		contentRoot: contentRoot,
		attachments: attachments,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports whether a usable store client is wired.
func (e *Engine) Enabled() bool {
	return e != nil && e.store != nil
}

// OnUpload copies the uploaded file to the store, replacing any existing
// object under the same key. The descriptor is always returned unchanged;
// failures are only logged.
func (e *Engine) OnUpload(ctx context.Context, desc UploadDescriptor) UploadDescriptor {
	e.Upload(ctx, desc)
	return desc
}

// Upload is OnUpload with its outcome reported. It returns ErrDisabled
// without a store and ErrOutsideRoot for files it does not mirror.
func (e *Engine) Upload(ctx context.Context, desc UploadDescriptor) error {
	if !e.Enabled() {
		return ErrDisabled
	}
	key := keys.Derive(desc.File, e.contentRoot)
	if key == "" {
		e.logger.Debug("upload outside content root", "file", desc.File)
		metrics.SyncEventsTotal.WithLabelValues("upload", "skipped").Inc()
		return ErrOutsideRoot
	}

	body, err := os.ReadFile(desc.File)
	if err != nil {
		e.logger.Warn("reading uploaded file", "file", desc.File, "error", err)
		metrics.SyncEventsTotal.WithLabelValues("upload", "failed").Inc()
		return err
	}
	contentType := desc.Type
	if contentType == "" {
		contentType = media.DetectContentType(desc.File)
	}

	if e.exists(ctx, key) {
		if !e.store.Delete(ctx, key) {
			e.logger.Warn("replacing object: delete failed, uploading anyway", "key", key)
		}
	}

	if err := e.store.Put(ctx, key, body, contentType); err != nil {
		e.logger.Error("uploading object", "key", key, "error", err)
		metrics.SyncEventsTotal.WithLabelValues("upload", "failed").Inc()
		return err
	}
	metrics.SyncEventsTotal.WithLabelValues("upload", "ok").Inc()
	e.logger.Info("object uploaded", "key", key, "size", len(body), "content_type", contentType)
	return nil
}

// OnDelete removes the object for a deleted attachment.
func (e *Engine) OnDelete(ctx context.Context, attachmentID int64) {
	if !e.Enabled() || e.attachments == nil {
		return
	}
	path, err := e.attachments.AttachedFile(ctx, attachmentID)
	if err != nil {
		e.logger.Warn("resolving attachment", "attachment_id", attachmentID, "error", err)
		metrics.SyncEventsTotal.WithLabelValues("delete", "failed").Inc()
		return
	}
	if path == "" {
		metrics.SyncEventsTotal.WithLabelValues("delete", "skipped").Inc()
		return
	}
	e.OnDeletePath(ctx, path)
}

// OnDeletePath removes the object for a local path, if one exists.
func (e *Engine) OnDeletePath(ctx context.Context, path string) {
	e.DeletePath(ctx, path)
}

// DeletePath is OnDeletePath with its outcome reported. It returns false
// and a nil error when there was nothing to delete.
func (e *Engine) DeletePath(ctx context.Context, path string) (bool, error) {
	if !e.Enabled() {
		return false, ErrDisabled
	}
	key := keys.Derive(path, e.contentRoot)
	if key == "" {
		metrics.SyncEventsTotal.WithLabelValues("delete", "skipped").Inc()
		return false, ErrOutsideRoot
	}
	if !e.exists(ctx, key) {
		metrics.SyncEventsTotal.WithLabelValues("delete", "skipped").Inc()
		return false, nil
	}
	if !e.store.Delete(ctx, key) {
		metrics.SyncEventsTotal.WithLabelValues("delete", "failed").Inc()
		return false, ErrDeleteFailed
	}
	metrics.SyncEventsTotal.WithLabelValues("delete", "ok").Inc()
	e.logger.Info("object deleted", "key", key)
	return true, nil
}

// exists treats a server fault as absence after logging it.
func (e *Engine) exists(ctx context.Context, key string) bool {
	ok, err := e.store.Exists(ctx, key)
	if err != nil {
		e.logger.Warn("existence check failed", "key", key, "error", err)
		return false
	}
	return ok
}
