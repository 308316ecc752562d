package index

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewStore tests creating a new span store.
func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	if store.db == nil {
		t.Error("Store database is nil")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// TestInsertAndLookup tests inserting a span and reading it back by path.
func TestInsertAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := NewDocumentID()
	if err := store.Insert(ctx, NewSpan(doc, "records[0]", 40, 52)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	span, err := store.Lookup(ctx, doc, "records[0]")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if span.ID == 0 {
		t.Error("ID was not assigned")
	}
	if span.DocumentID != doc {
		t.Errorf("DocumentID = %s, want %s", span.DocumentID, doc)
	}
	if span.Start != 40 || span.End != 52 {
		t.Errorf("span = [%d, %d), want [40, 52)", span.Start, span.End)
	}
	if span.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	_, err = store.Lookup(ctx, doc, "records[1]")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() of missing path error = %v, want ErrNotFound", err)
	}
}

// TestInsertReplacesPath tests that re-indexing a path keeps one row.
func TestInsertReplacesPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := NewDocumentID()
	store.Insert(ctx, NewSpan(doc, "record_count", 10, 20))
	if err := store.Insert(ctx, NewSpan(doc, "record_count", 30, 40)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	spans, err := store.Query(ctx, QueryOptions{DocumentID: doc})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("Query() returned %d spans, want 1", len(spans))
	}
	if spans[0].Start != 30 {
		t.Errorf("Start = %d, want 30", spans[0].Start)
	}
}

// TestInsertBatch tests inserting multiple spans in a transaction.
func TestInsertBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertBatch(ctx, nil); err != nil {
		t.Errorf("InsertBatch(nil) error = %v", err)
	}

	doc := NewDocumentID()
	spans := []*Span{
		NewSpan(doc, "records[0]", 10, 20),
		NewSpan(doc, "records[1]", 22, 30),
		NewSpan(doc, "record_count", 32, 49),
	}
	if err := store.InsertBatch(ctx, spans); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	got, err := store.Query(ctx, QueryOptions{DocumentID: doc})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	paths := make([]string, 0, len(got))
	for _, s := range got {
		paths = append(paths, s.Path)
	}
	want := []string{"records[0]", "records[1]", "record_count"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("Query() paths mismatch (-want +got):\n%s", diff)
	}
}

// TestQuery tests filtering, ordering and pagination.
func TestQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docA, docB := NewDocumentID(), NewDocumentID()
	store.InsertBatch(ctx, []*Span{
		NewSpan(docA, "records[0]", 10, 20),
		NewSpan(docA, "records[1]", 22, 30),
		NewSpan(docA, "records[2]", 32, 40),
		NewSpan(docA, "record_count", 42, 59),
		NewSpan(docA, "records_x", 60, 70),
		NewSpan(docB, "records[0]", 5, 9),
	})

	tests := []struct {
		name      string
		opts      QueryOptions
		wantPaths []string
		wantErr   bool
	}{
		{
			name:      "document filter",
			opts:      QueryOptions{DocumentID: docB},
			wantPaths: []string{"records[0]"},
		},
		{
			name:      "path prefix",
			opts:      QueryOptions{DocumentID: docA, PathPrefix: "records["},
			wantPaths: []string{"records[0]", "records[1]", "records[2]"},
		},
		{
			name:      "prefix underscore is literal",
			opts:      QueryOptions{DocumentID: docA, PathPrefix: "records_"},
			wantPaths: []string{"records_x"},
		},
		{
			name:      "descending with limit",
			opts:      QueryOptions{DocumentID: docA, OrderBy: "start", OrderDesc: true, Limit: 2},
			wantPaths: []string{"records_x", "record_count"},
		},
		{
			name:      "offset without limit",
			opts:      QueryOptions{DocumentID: docA, Offset: 3},
			wantPaths: []string{"record_count", "records_x"},
		},
		{
			name:      "order by path",
			opts:      QueryOptions{DocumentID: docA, OrderBy: "path", Limit: 1},
			wantPaths: []string{"record_count"},
		},
		{
			name:    "invalid order column",
			opts:    QueryOptions{OrderBy: "start_pos; DROP TABLE spans"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := store.Query(ctx, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Query() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var paths []string
			for _, s := range spans {
				paths = append(paths, s.Path)
			}
			if diff := cmp.Diff(tt.wantPaths, paths); diff != "" {
				t.Errorf("Query() paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDocumentsAndDelete tests document listing and removal.
func TestDocumentsAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docA, docB := NewDocumentID(), NewDocumentID()
	store.InsertBatch(ctx, []*Span{
		NewSpan(docA, "records[0]", 10, 20),
		NewSpan(docA, "records[1]", 22, 30),
		NewSpan(docB, "records[0]", 5, 9),
	})

	docs, err := store.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents() error = %v", err)
	}
	want := []Document{
		{DocumentID: docA, Spans: 2, Bytes: 18},
		{DocumentID: docB, Spans: 1, Bytes: 4},
	}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Errorf("Documents() mismatch (-want +got):\n%s", diff)
	}

	n, err := store.Delete(ctx, docA)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() removed %d spans, want 2", n)
	}

	docs, _ = store.Documents(ctx)
	if len(docs) != 1 || docs[0].DocumentID != docB {
		t.Errorf("Documents() after Delete() = %+v", docs)
	}
}

// TestNewDocumentID tests that document ids are random UUIDs.
func TestNewDocumentID(t *testing.T) {
	a, b := NewDocumentID(), NewDocumentID()
	if a == b {
		t.Errorf("NewDocumentID() returned %s twice", a)
	}
	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("uuid.Parse(%q) error = %v", a, err)
	}
	if id.Version() != 4 {
		t.Errorf("Version() = %d, want 4", id.Version())
	}
}

// TestMemberSpan tests that member keys survive the round trip.
func TestMemberSpan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := NewDocumentID()
	store.Insert(ctx, NewMemberSpan(doc, "record_count", "record_count", 30, 47))
	store.Insert(ctx, NewSpan(doc, "records[0]", 10, 20))

	member, err := store.Lookup(ctx, doc, "record_count")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !member.IsMember() || member.Key != "record_count" {
		t.Errorf("Lookup(record_count) = %+v, want member with key record_count", member)
	}

	item, err := store.Lookup(ctx, doc, "records[0]")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if item.IsMember() {
		t.Errorf("Lookup(records[0]) = %+v, want array item", item)
	}
}
