package jsonstream

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
)

type writtenDoc struct {
	fs     afero.Fs
	path   string
	status Span
	first  Span
	second Span
}

// writeDoc writes {"status": "pending", "items": [100, 200]} and records spans.
func writeDoc(t *testing.T) writtenDoc {
	t.Helper()
	d := writtenDoc{fs: afero.NewMemMapFs(), path: "doc.json"}

	err := WithFile(d.fs, d.path, func(w *StreamWriter) error {
		var err error
		if d.status, err = w.AppendObjectItem("status", "pending"); err != nil {
			return err
		}
		if _, err = w.OpenArrayContext(Key("items")); err != nil {
			return err
		}
		if d.first, err = w.AppendArrayItem(100); err != nil {
			return err
		}
		d.second, err = w.AppendArrayItem(200)
		return err
	})
	if err != nil {
		t.Fatalf("WithFile() error = %v", err)
	}
	return d
}

func (d writtenDoc) contents(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}

// TestPatch tests in-place replacement of recorded spans.
func TestPatch(t *testing.T) {
	tests := []struct {
		name  string
		patch func(p *Patcher, d writtenDoc) error
		want  string
	}{
		{
			name:  "array item",
			patch: func(p *Patcher, d writtenDoc) error { return p.Patch(d.second, 999) },
			want:  `{"status": "pending", "items": [100, 999]}`,
		},
		{
			name:  "object member",
			patch: func(p *Patcher, d writtenDoc) error { return p.PatchEntry(d.status, "status", "success") },
			want:  `{"status": "success", "items": [100, 200]}`,
		},
		{
			name:  "raw bytes",
			patch: func(p *Patcher, d writtenDoc) error { return p.PatchRaw(d.first, []byte("0.5")) },
			want:  `{"status": "pending", "items": [0.5, 200]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := writeDoc(t)
			p, err := OpenPatcher(d.fs, d.path)
			if err != nil {
				t.Fatalf("OpenPatcher() error = %v", err)
			}
			defer p.Close()

			if err := tt.patch(p, d); err != nil {
				t.Fatalf("patch error = %v", err)
			}
			got := d.contents(t)
			if got != tt.want {
				t.Errorf("contents = %q, want %q", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("patched document is not valid JSON: %s", got)
			}
		})
	}
}

// TestPatchRejected tests that rejected patches leave the document unchanged.
func TestPatchRejected(t *testing.T) {
	tests := []struct {
		name    string
		patch   func(p *Patcher, d writtenDoc) error
		wantErr error
	}{
		{
			name:    "longer value",
			patch:   func(p *Patcher, d writtenDoc) error { return p.Patch(d.first, 1000) },
			wantErr: ErrSpanLengthMismatch,
		},
		{
			name:    "shorter member",
			patch:   func(p *Patcher, d writtenDoc) error { return p.PatchEntry(d.status, "status", "ok") },
			wantErr: ErrSpanLengthMismatch,
		},
		{
			name:    "zero span",
			patch:   func(p *Patcher, d writtenDoc) error { return p.PatchRaw(Span{}, nil) },
			wantErr: ErrInvalidSpan,
		},
		{
			name:    "inverted span",
			patch:   func(p *Patcher, d writtenDoc) error { return p.PatchRaw(Span{Start: 5, End: 3}, nil) },
			wantErr: ErrInvalidSpan,
		},
		{
			name: "beyond end",
			patch: func(p *Patcher, d writtenDoc) error {
				return p.PatchRaw(Span{Start: 1000, End: 1003}, []byte("abc"))
			},
			wantErr: ErrInvalidSpan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := writeDoc(t)
			before := d.contents(t)

			p, err := OpenPatcher(d.fs, d.path)
			if err != nil {
				t.Fatalf("OpenPatcher() error = %v", err)
			}
			defer p.Close()

			if err := tt.patch(p, d); !errors.Is(err, tt.wantErr) {
				t.Fatalf("patch error = %v, want %v", err, tt.wantErr)
			}
			if got := d.contents(t); got != before {
				t.Errorf("rejected patch changed document: %q -> %q", before, got)
			}
		})
	}
}

// TestPatcherRead tests reading back recorded spans.
func TestPatcherRead(t *testing.T) {
	d := writeDoc(t)
	p, err := OpenPatcher(d.fs, d.path)
	if err != nil {
		t.Fatalf("OpenPatcher() error = %v", err)
	}
	defer p.Close()

	got, err := p.Read(d.status)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != `"status": "pending"` {
		t.Errorf("Read(status) = %q", got)
	}

	// The last item ends two bytes before the end of the file.
	got, err = p.Read(d.second)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "200" {
		t.Errorf("Read(second) = %q, want %q", got, "200")
	}
}

// TestOpenPatcherMissingFile tests that a missing document is reported.
func TestOpenPatcherMissingFile(t *testing.T) {
	if _, err := OpenPatcher(afero.NewMemMapFs(), "missing.json"); err == nil {
		t.Fatal("OpenPatcher() on missing file succeeded")
	}
}
