package jsonstream

import (
	"bytes"
	"sync"

	json "github.com/goccy/go-json"
)

// Encoder returns the JSON text of a single value. Pre-encoded values are
// passed as json.RawMessage.
type Encoder func(v any) ([]byte, error)

// bufferPool holds encode buffers shared by concurrent Marshal calls.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// maxPooledBuffer caps the capacity of buffers kept in bufferPool.
const maxPooledBuffer = 4096

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer recycles buf unless a large value grew it past maxPooledBuffer.
func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is the default Encoder. It writes compact JSON without HTML
// escaping. It is safe for concurrent use.
func Marshal(v any) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Remove trailing newline added by Encoder
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Copy to new slice to avoid returning pooled buffer
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}
