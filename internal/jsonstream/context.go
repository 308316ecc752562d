package jsonstream

import "fmt"

// Kind is the structural type of an open context.
type Kind int

const (
	Object Kind = iota
	Array
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Open returns the opening delimiter of k.
func (k Kind) Open() byte {
	if k == Array {
		return '['
	}
	return '{'
}

// Close returns the closing delimiter of k.
func (k Kind) Close() byte {
	if k == Array {
		return ']'
	}
	return '}'
}

// Context is a snapshot of one open scope of the document.
// It holds no references into the writer, so changing it has no effect on
// the document being written.
type Context struct {
	Kind Kind

	// StartIndex is the stream position of the first byte after the opening
	// delimiter; EndIndex is one past the last byte written into the context.
	StartIndex int64
	EndIndex   int64

	// ItemsInserted counts the values, members and nested contexts written
	// directly inside this context.
	ItemsInserted int
}

// Span locates a written item in the output stream using one-based
// positions. The item occupies the zero-based byte range [Start-1, End-1).
type Span struct {
	Start int64
	End   int64
}

// Offset returns the zero-based stream position of the first byte of s.
func (s Span) Offset() int64 {
	return s.Start - 1
}

// Len returns the number of bytes covered by s.
func (s Span) Len() int64 {
	return s.End - s.Start
}

// Valid reports whether s can address bytes of a stream.
func (s Span) Valid() bool {
	return s.Start > 0 && s.End >= s.Start
}

// Slice returns the bytes of doc covered by s, or nil if s does not fit doc.
func (s Span) Slice(doc []byte) []byte {
	if !s.Valid() || s.End-1 > int64(len(doc)) {
		return nil
	}
	return doc[s.Offset() : s.End-1]
}

func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Key returns a pointer to name, for use as an optional context key.
func Key(name string) *string {
	return &name
}
