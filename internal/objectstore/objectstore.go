// Package objectstore is the thin contract over the remote bucket that media
// files are offloaded to, plus its Amazon S3 implementation.
//
// Existence checks return a tagged Existence value instead of an error so
// each call site applies its own policy. Access-restricted responses count as
// "present": a false negative there would skip the delete-before-put on an
// object the caller simply cannot see.
package objectstore

import (
	"context"
	"errors"
)

// Sentinel errors for the store's failure taxonomy.
var (
	// ErrNotFound is a clean negative: the object does not exist, or it
	// exists with an empty body.
	ErrNotFound = errors.New("objectstore: object not found")

	// ErrServerFault reports a 5xx-class or unreachable-backend failure.
	// Callers may retry; it must never be read as "not found".
	ErrServerFault = errors.New("objectstore: server fault")

	// ErrTransfer reports a failed put or get.
	ErrTransfer = errors.New("objectstore: transfer failed")
)

// Existence is the outcome of a HEAD round trip.
type Existence int

const (
	// Absent means the store answered with a clean "not found".
	Absent Existence = iota
	// Present means the object or bucket exists.
	Present
	// AccessRestricted means the store refused to tell.
	AccessRestricted
	// ServerFault means the store failed or could not be reached.
	ServerFault
)

// String returns a lower-case label suitable for logs and metric labels.
func (e Existence) String() string {
	switch e {
	case Present:
		return "present"
	case AccessRestricted:
		return "access_restricted"
	case ServerFault:
		return "server_fault"
	default:
		return "absent"
	}
}

// Exists applies the "assume present" policy: Present and AccessRestricted
// are true, Absent is false and ServerFault is ErrServerFault.
func (e Existence) Exists() (bool, error) {
	switch e {
	case Present, AccessRestricted:
		return true, nil
	case ServerFault:
		return false, ErrServerFault
	default:
		return false, nil
	}
}

// Object is the content of a stored object.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
}

// Client is the set of bucket operations the offload and retrieval paths
// depend on. Implementations never cache object state; every call is a live
// round trip.
type Client interface {
	// Head reports whether key exists.
	Head(ctx context.Context, key string) Existence

	// Exists is Head with the "assume present" policy applied.
	Exists(ctx context.Context, key string) (bool, error)

	// Put uploads body under key in a single request.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Get downloads key. It fails with ErrNotFound when the body is empty.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes key. Failures are logged and reported as false.
	Delete(ctx context.Context, key string) bool

	// HeadBucket reports whether the configured bucket exists.
	HeadBucket(ctx context.Context) Existence
}
