package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/metrics"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
	"github.com/mediaoffload/mediaoffload/internal/offload"
	"github.com/mediaoffload/mediaoffload/internal/probe"
	"github.com/mediaoffload/mediaoffload/internal/retrieval"
)

// ContentIndex is the part of the content index the runtime needs.
type ContentIndex interface {
	offload.AttachmentResolver
	retrieval.ContentIndex
}

// Deps are the host collaborators a Runtime is built from.
type Deps struct {
	Options config.OptionStore
	// Storage supplies the endpoint and addressing style.
	Storage      config.StorageConfig
	Prober       *probe.Prober
	DocumentRoot string
	ContentRoot  string
	Index        ContentIndex
	Writer       retrieval.UploadWriter
	Derivatives  retrieval.DerivativeGenerator
	Logger       *slog.Logger
}

// Runtime is one consistent generation of the store client and everything
// built on it. It is replaced as a whole when the settings change.
type Runtime struct {
	Engine    *offload.Engine
	Retrieval *retrieval.Service
	// Connected reports whether the bucket probe succeeded.
	Connected bool
	// Missing lists unset settings when the configuration is incomplete.
	Missing []string
}

// BuildRuntime reads the bucket settings and builds a Runtime from them.
func BuildRuntime(ctx context.Context, d Deps) (*Runtime, error) {
	bc, err := config.ReadBucketConfig(ctx, d.Options, d.Storage)
	if err != nil {
		return nil, fmt.Errorf("reading bucket settings: %w", err)
	}
	return NewRuntime(ctx, d, bc)
}

// NewRuntime probes the bucket described by bc and wires a Runtime. An
// unusable bucket yields a disconnected Runtime in which every hook is a
// no-op and every retrieval is a 404. A server fault is returned as an
// error.
func NewRuntime(ctx context.Context, d Deps, bc config.BucketConfig) (*Runtime, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	prober := d.Prober
	if prober == nil {
		prober = probe.New(nil)
	}
	var store objectstore.Client
	client, err := prober.Validate(ctx, bc)
	switch {
	case err == nil:
		store = client
		logger.Info("object store connected", "bucket", bc.Bucket, "region", bc.Region)
	case errors.Is(err, probe.ErrUnusable):
		logger.Warn("object store unusable, running local-only", "error", err, "missing", bc.Missing())
	default:
		return nil, err
	}

	if store != nil {
		metrics.StoreConnected.Set(1)
	} else {
		metrics.StoreConnected.Set(0)
	}

	return &Runtime{
		Engine: offload.NewEngine(store, d.ContentRoot, d.Index, offload.WithLogger(logger)),
		Retrieval: retrieval.NewService(store, retrieval.Config{
			DocumentRoot: d.DocumentRoot,
			ContentRoot:  d.ContentRoot,
			Index:        d.Index,
			Writer:       d.Writer,
			Derivatives:  d.Derivatives,
			Logger:       logger,
		}),
		Connected: store != nil,
		Missing:   bc.Missing(),
	}, nil
}
