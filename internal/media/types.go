package media

import (
	"context"
	"io"
)

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// AccessPath returns the public reference persisted on the message.
	AccessPath(key string) string
}

// Fetcher downloads provider-hosted media.
type Fetcher interface {
	Fetch(ctx context.Context, url, token string) (*Download, error)
}

// Download is a fetched media body.
type Download struct {
	Data        []byte
	ContentType string
}

// Request identifies one message's media to relay.
type Request struct {
	CompanyID      string
	ConversationID string
	MessageID      string
	SourceURL      string
	MimeHint       string
	Token          string
	Origin         string // request, worker
}

// Result describes where a message's media reference now points.
// On failure URL still carries the provider's original URL.
type Result struct {
	URL      string
	Key      string
	MimeType string
	Size     int64
	Relayed  bool
}
