// Package index is the host's content index: attachment records for media
// files and the persistent options table that holds the bucket settings.
package index

import (
	"encoding/json"
	"time"
)

// Attachment is one media item known to the host.
type Attachment struct {
	ID int64
	// GUID is the public location of the file, the reconstructed local path
	// for items materialized from the bucket.
	GUID     string
	File     string
	MimeType string
	Title    string
	// Metadata holds the generated derivative sizes as JSON.
	Metadata  json.RawMessage
	CreatedAt time.Time
}
