package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// mockS3Client implements S3API for unit testing.
type mockS3Client struct {
	// objects stores all objects keyed by their S3 key.
	objects map[string][]byte
	// contentTypes stores the Content-Type sent with each PutObject.
	contentTypes map[string]string
	// headErr, if set, is returned by HeadObject and HeadBucket.
	headErr error
	// putErr, getErr and deleteErr force the corresponding call to fail.
	putErr    error
	getErr    error
	deleteErr error
	// omitETag makes PutObject succeed without an ETag.
	omitETag bool

	putObjectCalls    int
	getObjectCalls    int
	deleteObjectCalls int
	headObjectCalls   int
	headBucketCalls   int
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.headObjectCalls++
	if m.headErr != nil {
		return nil, m.headErr
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &mockAPIError{code: "NotFound", message: "Not Found", httpStatus: 404}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.headBucketCalls++
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.putObjectCalls++
	if m.putErr != nil {
		return nil, m.putErr
	}
	key := aws.ToString(params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	m.contentTypes[key] = aws.ToString(params.ContentType)
	if m.omitETag {
		return &s3.PutObjectOutput{}, nil
	}
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf(`"%x"`, md5.Sum(data)))}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.getObjectCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	key := aws.ToString(params.Key)
	data, ok := m.objects[key]
	if !ok {
		return nil, &mockAPIError{code: "NoSuchKey", message: "The specified key does not exist.", httpStatus: 404}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(m.contentTypes[key]),
	}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleteObjectCalls++
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// mockAPIError implements smithy.APIError and exposes an HTTP status the way
// the SDK's response errors do.
type mockAPIError struct {
	code       string
	message    string
	httpStatus int
}

func (e *mockAPIError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *mockAPIError) ErrorCode() string {
	return e.code
}

func (e *mockAPIError) ErrorMessage() string {
	return e.message
}

func (e *mockAPIError) ErrorFault() smithy.ErrorFault {
	if e.httpStatus >= 500 {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

func (e *mockAPIError) HTTPStatusCode() int {
	return e.httpStatus
}

// Ensure mockAPIError satisfies smithy.APIError.
var _ smithy.APIError = (*mockAPIError)(nil)

// codeOnlyError is an APIError without an HTTP status.
type codeOnlyError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *codeOnlyError) Error() string                 { return e.code }
func (e *codeOnlyError) ErrorCode() string             { return e.code }
func (e *codeOnlyError) ErrorMessage() string          { return e.code }
func (e *codeOnlyError) ErrorFault() smithy.ErrorFault { return e.fault }

func newTestS3Client(t *testing.T) (*S3Client, *mockS3Client) {
	t.Helper()
	mock := newMockS3Client()
	return NewS3ClientWithAPI("media-1", "us-east-1", mock), mock
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Existence
	}{
		{"nil", nil, Present},
		{"not found", &mockAPIError{code: "NotFound", httpStatus: 404}, Absent},
		{"no such key", &mockAPIError{code: "NoSuchKey", httpStatus: 404}, Absent},
		{"access denied code", &mockAPIError{code: "AccessDenied", httpStatus: 403}, AccessRestricted},
		{"forbidden status", &mockAPIError{code: "Forbidden", httpStatus: 403}, AccessRestricted},
		{"access denied without status", &codeOnlyError{code: "AccessDenied", fault: smithy.FaultClient}, AccessRestricted},
		{"internal error", &mockAPIError{code: "InternalError", httpStatus: 500}, ServerFault},
		{"slow down", &mockAPIError{code: "SlowDown", httpStatus: 503}, ServerFault},
		{"bad request", &mockAPIError{code: "BadRequest", httpStatus: 400}, Absent},
		{"server fault without status", &codeOnlyError{code: "InternalError", fault: smithy.FaultServer}, ServerFault},
		{"client fault without status", &codeOnlyError{code: "InvalidBucketName", fault: smithy.FaultClient}, Absent},
		{"wrapped 403", fmt.Errorf("operation error: %w", &mockAPIError{code: "Forbidden", httpStatus: 403}), AccessRestricted},
		{"unreachable", errors.New("dial tcp: connection refused"), ServerFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestExistencePolicy(t *testing.T) {
	tests := []struct {
		e       Existence
		want    bool
		wantErr error
	}{
		{Present, true, nil},
		{AccessRestricted, true, nil},
		{Absent, false, nil},
		{ServerFault, false, ErrServerFault},
	}
	for _, tt := range tests {
		t.Run(tt.e.String(), func(t *testing.T) {
			got, err := tt.e.Exists()
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Exists() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestS3PutAndGet(t *testing.T) {
	client, mock := newTestS3Client(t)
	ctx := context.Background()

	body := []byte("\x89PNG fake image bytes")
	if err := client.Put(ctx, "uploads/2024/a.png", body, "image/png"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if mock.contentTypes["uploads/2024/a.png"] != "image/png" {
		t.Errorf("content type sent = %q, want image/png", mock.contentTypes["uploads/2024/a.png"])
	}

	obj, err := client.Get(ctx, "uploads/2024/a.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(obj.Body, body) {
		t.Errorf("body = %q, want %q", obj.Body, body)
	}
	if obj.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", obj.ContentType)
	}
	if obj.Key != "uploads/2024/a.png" {
		t.Errorf("Key = %q", obj.Key)
	}
}

func TestS3PutWithoutContentType(t *testing.T) {
	client, mock := newTestS3Client(t)
	if err := client.Put(context.Background(), "k", []byte("x"), ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if mock.contentTypes["k"] != "" {
		t.Errorf("content type sent = %q, want empty", mock.contentTypes["k"])
	}
}

func TestS3PutFailure(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.putErr = &mockAPIError{code: "InternalError", httpStatus: 500}

	err := client.Put(context.Background(), "k", []byte("x"), "text/plain")
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("Put error = %v, want ErrTransfer", err)
	}
}

func TestS3PutUnconfirmed(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.omitETag = true

	err := client.Put(context.Background(), "k", []byte("x"), "text/plain")
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("Put error = %v, want ErrTransfer", err)
	}
}

func TestS3GetNotFound(t *testing.T) {
	client, _ := newTestS3Client(t)

	_, err := client.Get(context.Background(), "missing.png")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestS3GetEmptyBody(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.objects["empty.txt"] = []byte{}

	_, err := client.Get(context.Background(), "empty.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestS3GetServerFault(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.getErr = &mockAPIError{code: "InternalError", httpStatus: 500}

	_, err := client.Get(context.Background(), "a.png")
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("Get error = %v, want ErrTransfer", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("server fault must not be reported as not found")
	}
}

func TestS3Exists(t *testing.T) {
	client, mock := newTestS3Client(t)
	ctx := context.Background()

	exists, err := client.Exists(ctx, "a.png")
	if err != nil || exists {
		t.Fatalf("Exists(missing) = %v, %v; want false, nil", exists, err)
	}

	mock.objects["a.png"] = []byte("data")
	exists, err = client.Exists(ctx, "a.png")
	if err != nil || !exists {
		t.Fatalf("Exists(present) = %v, %v; want true, nil", exists, err)
	}
}

func TestS3ExistsAccessDenied(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.headErr = &mockAPIError{code: "AccessDenied", message: "Access Denied", httpStatus: 403}

	exists, err := client.Exists(context.Background(), "a.png")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Error("access denied must be treated as existing")
	}
}

func TestS3ExistsServerFault(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.headErr = &mockAPIError{code: "InternalError", httpStatus: 500}

	exists, err := client.Exists(context.Background(), "a.png")
	if !errors.Is(err, ErrServerFault) {
		t.Fatalf("Exists error = %v, want ErrServerFault", err)
	}
	if exists {
		t.Error("server fault must not report existence")
	}
}

func TestS3Delete(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.objects["a.png"] = []byte("data")

	if !client.Delete(context.Background(), "a.png") {
		t.Fatal("Delete returned false")
	}
	if _, ok := mock.objects["a.png"]; ok {
		t.Error("object still present after Delete")
	}
	if mock.deleteObjectCalls != 1 {
		t.Errorf("expected 1 DeleteObject call, got %d", mock.deleteObjectCalls)
	}
}

func TestS3DeleteFailureIsSwallowed(t *testing.T) {
	client, mock := newTestS3Client(t)
	mock.deleteErr = &mockAPIError{code: "InternalError", httpStatus: 500}

	if client.Delete(context.Background(), "a.png") {
		t.Error("Delete returned true on failure")
	}
}

func TestS3HeadBucket(t *testing.T) {
	client, mock := newTestS3Client(t)
	ctx := context.Background()

	if got := client.HeadBucket(ctx); got != Present {
		t.Errorf("HeadBucket = %s, want present", got)
	}
	mock.headErr = &mockAPIError{code: "Forbidden", httpStatus: 403}
	if got := client.HeadBucket(ctx); got != AccessRestricted {
		t.Errorf("HeadBucket = %s, want access_restricted", got)
	}
	mock.headErr = &mockAPIError{code: "NotFound", httpStatus: 404}
	if got := client.HeadBucket(ctx); got != Absent {
		t.Errorf("HeadBucket = %s, want absent", got)
	}
	if mock.headBucketCalls != 3 {
		t.Errorf("expected 3 HeadBucket calls, got %d", mock.headBucketCalls)
	}
}

func TestS3ClientInterfaceCompliance(t *testing.T) {
	var _ Client = (*S3Client)(nil)
}
