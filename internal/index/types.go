package index

import (
	"time"

	"github.com/google/uuid"
)

// Span is one indexed location inside a written document.
type Span struct {
	ID         int64  `json:"id"`
	DocumentID string `json:"document_id"`

	// Path names the item, e.g. "records[3]" or "record_count".
	Path string `json:"path"`

	// Key is the member key for object members and empty for array items.
	Key string `json:"key,omitempty"`

	// Start and End are the one-based positions returned by the writer.
	Start int64 `json:"start"`
	End   int64 `json:"end"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSpan returns an array item span stamped with the current time.
func NewSpan(documentID, path string, start, end int64) *Span {
	return &Span{
		DocumentID: documentID,
		Path:       path,
		Start:      start,
		End:        end,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewMemberSpan returns an object member span stamped with the current time.
func NewMemberSpan(documentID, path, key string, start, end int64) *Span {
	span := NewSpan(documentID, path, start, end)
	span.Key = key
	return span
}

// IsMember reports whether the span holds a whole "key": value member.
func (s *Span) IsMember() bool {
	return s.Key != ""
}

// NewDocumentID returns a random identifier for a new document.
func NewDocumentID() string {
	return uuid.NewString()
}

// QueryOptions for filtering indexed spans.
type QueryOptions struct {
	DocumentID string
	PathPrefix string

	// Pagination
	Limit  int
	Offset int

	// Ordering
	OrderBy   string // "start", "path", etc.
	OrderDesc bool
}

// Document summarizes the spans indexed for one document.
type Document struct {
	DocumentID string `json:"document_id"`
	Spans      int64  `json:"spans"`
	Bytes      int64  `json:"bytes"`
}
