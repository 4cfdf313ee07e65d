package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/objectstore"
)

// fakeClient implements objectstore.Client with a fixed HeadBucket answer.
type fakeClient struct {
	bucket          objectstore.Existence
	headBucketCalls int
}

func (f *fakeClient) Head(ctx context.Context, key string) objectstore.Existence {
	return objectstore.Absent
}

func (f *fakeClient) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (f *fakeClient) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return nil
}

func (f *fakeClient) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	return nil, objectstore.ErrNotFound
}

func (f *fakeClient) Delete(ctx context.Context, key string) bool {
	return true
}

func (f *fakeClient) HeadBucket(ctx context.Context) objectstore.Existence {
	f.headBucketCalls++
	return f.bucket
}

// countingFactory returns a factory that hands out client and counts calls.
func countingFactory(client *fakeClient, calls *int) ClientFactory {
	return func(ctx context.Context, cfg config.BucketConfig) (objectstore.Client, error) {
		*calls++
		return client, nil
	}
}

func validConfig() config.BucketConfig {
	return config.BucketConfig{
		Bucket:    "media-1",
		Region:    "us-east-1",
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
	}
}

func TestValidateUsable(t *testing.T) {
	client := &fakeClient{bucket: objectstore.Present}
	calls := 0
	p := New(countingFactory(client, &calls))

	got, err := p.Validate(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != client {
		t.Error("Validate did not return the probed client")
	}
	if client.headBucketCalls != 1 {
		t.Errorf("HeadBucket calls = %d, want 1", client.headBucketCalls)
	}
}

func TestValidateAccessRestrictedIsUsable(t *testing.T) {
	client := &fakeClient{bucket: objectstore.AccessRestricted}
	calls := 0

	got, err := New(countingFactory(client, &calls)).Validate(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got == nil {
		t.Fatal("access-restricted bucket should yield a usable client")
	}
}

func TestValidateIncompleteSkipsNetwork(t *testing.T) {
	fields := []func(*config.BucketConfig){
		func(c *config.BucketConfig) { c.Bucket = "" },
		func(c *config.BucketConfig) { c.Region = "" },
		func(c *config.BucketConfig) { c.AccessKey = "" },
		func(c *config.BucketConfig) { c.SecretKey = "" },
	}
	for i, unset := range fields {
		client := &fakeClient{bucket: objectstore.Present}
		calls := 0
		cfg := validConfig()
		unset(&cfg)

		got, err := New(countingFactory(client, &calls)).Validate(context.Background(), cfg)
		if !errors.Is(err, ErrConfigurationIncomplete) {
			t.Errorf("case %d: error = %v, want ErrConfigurationIncomplete", i, err)
		}
		if !errors.Is(err, ErrUnusable) {
			t.Errorf("case %d: incomplete config must be ErrUnusable", i)
		}
		if got != nil {
			t.Errorf("case %d: got a client for incomplete config", i)
		}
		if calls != 0 || client.headBucketCalls != 0 {
			t.Errorf("case %d: factory calls = %d, HeadBucket calls = %d; want 0, 0", i, calls, client.headBucketCalls)
		}
	}
}

func TestValidateBucketMissing(t *testing.T) {
	client := &fakeClient{bucket: objectstore.Absent}
	calls := 0

	_, err := New(countingFactory(client, &calls)).Validate(context.Background(), validConfig())
	if !errors.Is(err, ErrBucketUnavailable) || !errors.Is(err, ErrUnusable) {
		t.Fatalf("error = %v, want ErrBucketUnavailable", err)
	}
}

func TestValidateServerFaultPropagates(t *testing.T) {
	client := &fakeClient{bucket: objectstore.ServerFault}
	calls := 0

	_, err := New(countingFactory(client, &calls)).Validate(context.Background(), validConfig())
	if !errors.Is(err, objectstore.ErrServerFault) {
		t.Fatalf("error = %v, want ErrServerFault", err)
	}
	if errors.Is(err, ErrUnusable) {
		t.Error("server fault must be distinguishable from an unusable configuration")
	}
}

func TestValidateFactoryError(t *testing.T) {
	p := New(func(ctx context.Context, cfg config.BucketConfig) (objectstore.Client, error) {
		return nil, errors.New("boom")
	})
	_, err := p.Validate(context.Background(), validConfig())
	if !errors.Is(err, ErrUnusable) {
		t.Fatalf("error = %v, want ErrUnusable", err)
	}
}
