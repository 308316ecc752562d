package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/agentfacts/jsonstream/internal/config"
	"github.com/agentfacts/jsonstream/internal/index"
	"github.com/agentfacts/jsonstream/internal/jsonstream"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	cfg.Output.Path = "doc.json"
	cfg.Input.Source = "test"
	cfg.Index.Enabled = true
	cfg.Index.DBPath = filepath.Join(t.TempDir(), "spans.db")
	return cfg
}

func writeInput(t *testing.T, fs afero.Fs, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, "in.ndjson", []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func readDoc(t *testing.T, fs afero.Fs) map[string]interface{} {
	t.Helper()
	data, err := afero.ReadFile(fs, "doc.json")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v, document: %s", err, data)
	}
	return doc
}

// TestWriteSpansPatch tests a document written, listed and patched through
// the index.
func TestWriteSpansPatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	writeInput(t, fs, "{\"n\":1}\n{\"n\":2}\n")

	if err := runWrite(ctx, cfg, fs, []string{"-in", "in.ndjson", "-doc", "doc-1"}, nil, nil); err != nil {
		t.Fatalf("runWrite() error = %v", err)
	}

	var out bytes.Buffer
	if err := runSpans(ctx, cfg, []string{"-doc", "doc-1"}, &out); err != nil {
		t.Fatalf("runSpans() error = %v", err)
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var span index.Span
		if err := json.Unmarshal([]byte(line), &span); err != nil {
			t.Fatalf("Unmarshal(%q) error = %v", line, err)
		}
		paths = append(paths, span.Path)
	}
	wantPaths := []string{"document_id", "created_at", "source", "records[0]", "records[1]", "record_count", "skipped"}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("span paths mismatch (-want +got):\n%s", diff)
	}

	patches := [][]string{
		{"-doc", "doc-1", "-path", "records[1]", "-value", `{"n":9}`},
		{"-doc", "doc-1", "-path", "record_count", "-value", "7"},
		{"-doc", "doc-1", "-path", "source", "-value", `"TEST"`},
	}
	for _, args := range patches {
		if err := runPatch(ctx, cfg, fs, args); err != nil {
			t.Fatalf("runPatch(%v) error = %v", args, err)
		}
	}

	doc := readDoc(t, fs)
	delete(doc, "created_at")
	want := map[string]interface{}{
		"document_id": "doc-1",
		"source":      "TEST",
		"records": []interface{}{
			map[string]interface{}{"n": float64(1)},
			map[string]interface{}{"n": float64(9)},
		},
		"record_count": float64(7),
		"skipped":      float64(0),
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("patched document mismatch (-want +got):\n%s", diff)
	}
}

// TestPatchErrors tests rejected patch requests.
func TestPatchErrors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	writeInput(t, fs, "{\"n\":1}\n")

	if err := runWrite(ctx, cfg, fs, []string{"-in", "in.ndjson", "-doc", "doc-1"}, nil, nil); err != nil {
		t.Fatalf("runWrite() error = %v", err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "missing flags", args: []string{"-doc", "doc-1"}, wantErr: errUsage},
		{name: "stdout document", args: []string{"-doc", "doc-1", "-path", "skipped", "-value", "1", "-out", "-"}, wantErr: errUsage},
		{name: "unknown path", args: []string{"-doc", "doc-1", "-path", "records[5]", "-value", "1"}, wantErr: index.ErrNotFound},
		{name: "length change", args: []string{"-doc", "doc-1", "-path", "records[0]", "-value", `{"n":10}`}, wantErr: jsonstream.ErrSpanLengthMismatch},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: errUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runPatch(ctx, cfg, fs, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("runPatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := runPatch(ctx, cfg, fs, []string{"-doc", "doc-1", "-path", "skipped", "-value", "{oops"}); err == nil {
		t.Error("runPatch() with invalid JSON should fail")
	}

	// A rejected patch leaves the document untouched.
	records, _ := readDoc(t, fs)["records"].([]interface{})
	if diff := cmp.Diff([]interface{}{map[string]interface{}{"n": float64(1)}}, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

// TestWriteStdout tests writing a document to stdout with the index disabled.
func TestWriteStdout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Enabled = false

	var out bytes.Buffer
	err := runWrite(context.Background(), cfg, afero.NewMemMapFs(), []string{"-out", "-"}, strings.NewReader("1\n2\n"), &out)
	if err != nil {
		t.Fatalf("runWrite() error = %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v, document: %s", err, out.Bytes())
	}
	if diff := cmp.Diff([]interface{}{float64(1), float64(2)}, doc["records"]); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

// TestWriteWithFilter tests that records excluded by policy are left out.
func TestWriteWithFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filter.Enabled = true
	cfg.Filter.PolicyDir = "policies"

	fs := afero.NewMemMapFs()
	policy := `
package jsonstream.filter

default decision = {"include": true}

decision = {"include": false, "reason": "odd"} {
	input.record.n == 1
}
`
	if err := afero.WriteFile(fs, "policies/filter.rego", []byte(policy), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	writeInput(t, fs, "{\"n\":1}\n{\"n\":2}\n")

	if err := runWrite(context.Background(), cfg, fs, []string{"-in", "in.ndjson"}, nil, nil); err != nil {
		t.Fatalf("runWrite() error = %v", err)
	}

	doc := readDoc(t, fs)
	if diff := cmp.Diff([]interface{}{map[string]interface{}{"n": float64(2)}}, doc["records"]); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

// TestSpansDocuments tests listing indexed documents.
func TestSpansDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	writeInput(t, fs, "1\n")

	for _, id := range []string{"a", "b"} {
		if err := runWrite(ctx, cfg, fs, []string{"-in", "in.ndjson", "-doc", id}, nil, nil); err != nil {
			t.Fatalf("runWrite(%s) error = %v", id, err)
		}
	}

	var out bytes.Buffer
	if err := runSpans(ctx, cfg, nil, &out); err != nil {
		t.Fatalf("runSpans() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("runSpans() printed %d documents, want 2:\n%s", len(lines), out.String())
	}
	var doc index.Document
	if err := json.Unmarshal([]byte(lines[0]), &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if doc.DocumentID != "a" || doc.Spans != 7 {
		t.Errorf("first document = %+v, want a with 7 spans", doc)
	}

	if err := runSpans(ctx, cfg, []string{"-doc", "missing"}, &out); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("runSpans() error = %v, want ErrNotFound", err)
	}
}
