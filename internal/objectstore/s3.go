package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/mediaoffload/mediaoffload/internal/metrics"
)

// S3API defines the subset of the AWS S3 client interface that S3Client
// uses. This allows mocking in tests.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Client implements Client against a single Amazon S3 bucket. Keys are
// used verbatim; there is no prefix namespacing.
type S3Client struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Region is the AWS region of the bucket.
	Region string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewS3Client builds an S3Client from static credentials. It does not
// contact the network; validation is the probe's job. endpointURL and
// usePathStyle exist for S3-compatible endpoints.
func NewS3Client(ctx context.Context, bucket, region, endpointURL string, usePathStyle bool, accessKeyID, secretAccessKey string) (*S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	if usePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3ClientWithAPI(bucket, region, s3.NewFromConfig(cfg, s3Opts...)), nil
}

// NewS3ClientWithAPI creates an S3Client with a pre-configured S3 client.
// This is primarily used for testing with mock clients.
func NewS3ClientWithAPI(bucket, region string, client S3API) *S3Client {
	return &S3Client{
		Bucket: bucket,
		Region: region,
		client: client,
	}
}

// Head issues HeadObject and classifies the response.
func (c *S3Client) Head(ctx context.Context, key string) Existence {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	e := classify(err)
	record("head", e.String())
	if e == ServerFault {
		slog.Warn("HeadObject failed", "bucket", c.Bucket, "key", key, "error", err)
	}
	return e
}

// Exists reports whether key exists, treating access-denied as present.
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := c.Head(ctx, key).Exists()
	if err != nil {
		return false, fmt.Errorf("checking %q: %w", key, err)
	}
	return exists, nil
}

// Put uploads body under key. The upload only counts as stored when S3
// confirms it with an ETag.
func (c *S3Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.client.PutObject(ctx, input)
	if err != nil {
		record("put", "error")
		return fmt.Errorf("%w: uploading %q: %v", ErrTransfer, key, err)
	}
	if out == nil || aws.ToString(out.ETag) == "" {
		record("put", "unconfirmed")
		return fmt.Errorf("%w: uploading %q: no object reference returned", ErrTransfer, key)
	}

	record("put", "success")
	metrics.UploadedBytes.Observe(float64(len(body)))
	return nil
}

// Get downloads key and its content type.
func (c *S3Client) Get(ctx context.Context, key string) (*Object, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if classify(err) == Absent {
			record("get", "not_found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		record("get", "error")
		return nil, fmt.Errorf("%w: getting %q: %v", ErrTransfer, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		record("get", "error")
		return nil, fmt.Errorf("%w: reading %q: %v", ErrTransfer, key, err)
	}
	if len(data) == 0 {
		record("get", "empty")
		return nil, fmt.Errorf("%w: %s has an empty body", ErrNotFound, key)
	}

	record("get", "success")
	return &Object{
		Key:         key,
		Body:        data,
		ContentType: aws.ToString(resp.ContentType),
	}, nil
}

// Delete removes key. S3 DeleteObject does not error on missing keys, so
// false means the request itself failed.
func (c *S3Client) Delete(ctx context.Context, key string) bool {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		record("delete", "error")
		slog.Warn("DeleteObject failed", "bucket", c.Bucket, "key", key, "error", err)
		return false
	}
	record("delete", "success")
	return true
}

// HeadBucket issues HeadBucket against the configured bucket.
func (c *S3Client) HeadBucket(ctx context.Context) Existence {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.Bucket),
	})
	e := classify(err)
	record("head_bucket", e.String())
	if err != nil {
		slog.Debug("HeadBucket returned an error", "bucket", c.Bucket, "existence", e.String(), "error", err)
	}
	return e
}

// classify maps a HEAD error onto an Existence. 403 and AccessDenied are
// AccessRestricted, 5xx and server faults are ServerFault, and any other
// response from S3 is Absent. An error without an HTTP response means the
// store was unreachable, which is a ServerFault rather than a clean miss.
func classify(err error) Existence {
	if err == nil {
		return Present
	}

	var apiErr smithy.APIError
	isAPIErr := errors.As(err, &apiErr)
	if isAPIErr && apiErr.ErrorCode() == "AccessDenied" {
		return AccessRestricted
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == 403:
			return AccessRestricted
		case status >= 500:
			return ServerFault
		case status > 0:
			return Absent
		}
	}

	if isAPIErr {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return ServerFault
		}
		return Absent
	}

	return ServerFault
}

func record(operation, outcome string) {
	metrics.StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// Ensure S3Client implements Client at compile time.
var _ Client = (*S3Client)(nil)
