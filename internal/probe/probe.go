// Package probe validates bucket settings once, at configuration time, and
// hands back a ready store client.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
)

var (
	// ErrUnusable means the settings cannot produce a working client. The
	// service keeps running with local storage only.
	ErrUnusable = errors.New("probe: store unusable")

	// ErrConfigurationIncomplete means a required setting is empty.
	ErrConfigurationIncomplete = fmt.Errorf("%w: configuration incomplete", ErrUnusable)

	// ErrBucketUnavailable means the store answered that the bucket does
	// not exist, or rejected the request outright.
	ErrBucketUnavailable = fmt.Errorf("%w: bucket unavailable", ErrUnusable)
)

// ClientFactory builds an unvalidated client from settings.
type ClientFactory func(ctx context.Context, cfg config.BucketConfig) (objectstore.Client, error)

// S3Factory builds an S3 client. It does not touch the network.
func S3Factory(ctx context.Context, cfg config.BucketConfig) (objectstore.Client, error) {
	return objectstore.NewS3Client(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint, cfg.UsePathStyle, cfg.AccessKey, cfg.SecretKey)
}

// Prober validates bucket settings.
type Prober struct {
	newClient ClientFactory
}

// New returns a Prober using factory, or S3Factory when factory is nil.
func New(factory ClientFactory) *Prober {
	if factory == nil {
		factory = S3Factory
	}
	return &Prober{newClient: factory}
}

// Validate checks cfg and returns a usable client.
//
// Incomplete settings fail with ErrConfigurationIncomplete before any client
// is built. A bucket that exists, or whose existence is hidden behind an
// access policy, is usable. A clean miss fails with ErrBucketUnavailable.
// A server fault is returned wrapping objectstore.ErrServerFault and is not
// ErrUnusable: the bucket may be fine but the store is unreachable.
func (p *Prober) Validate(ctx context.Context, cfg config.BucketConfig) (objectstore.Client, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfigurationIncomplete, strings.Join(missing, ", "))
	}

	client, err := p.newClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: building client: %v", ErrUnusable, err)
	}

	switch e := client.HeadBucket(ctx); e {
	case objectstore.Present, objectstore.AccessRestricted:
		slog.Info("Bucket validated", "bucket", cfg.Bucket, "region", cfg.Region, "existence", e.String())
		return client, nil
	case objectstore.ServerFault:
		return nil, fmt.Errorf("probing bucket %q: %w", cfg.Bucket, objectstore.ErrServerFault)
	default:
		return nil, fmt.Errorf("%w: %q in %s", ErrBucketUnavailable, cfg.Bucket, cfg.Region)
	}
}
