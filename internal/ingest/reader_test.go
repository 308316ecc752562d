package ingest

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

// TestReadRecord tests record splitting, blank line handling and validation.
func TestReadRecord(t *testing.T) {
	input := "{\"a\":1}\n\n   \n[1,2]\r\nnot json\n\"tail\""
	r := NewReader(strings.NewReader(input))

	tests := []struct {
		want     string
		wantErr  error
		wantLine int
	}{
		{want: `{"a":1}`, wantLine: 1},
		{want: `[1,2]`, wantLine: 4},
		{wantErr: ErrInvalidRecord, wantLine: 5},
		{want: `"tail"`, wantLine: 6},
		{wantErr: io.EOF, wantLine: 6},
	}

	for i, tt := range tests {
		rec, err := r.ReadRecord()
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadRecord() #%d error = %v, want %v", i, err, tt.wantErr)
			}
		} else if err != nil {
			t.Fatalf("ReadRecord() #%d error = %v", i, err)
		}
		if string(rec) != tt.want {
			t.Errorf("ReadRecord() #%d = %q, want %q", i, rec, tt.want)
		}
		if r.Line() != tt.wantLine {
			t.Errorf("Line() after #%d = %d, want %d", i, r.Line(), tt.wantLine)
		}
	}
}

// TestReadRecordTooLarge tests the record size limit.
func TestReadRecordTooLarge(t *testing.T) {
	big := `"` + strings.Repeat("x", 100) + `"`
	r := NewReaderWithMaxSize(strings.NewReader(big+"\n"), 32)

	_, err := r.ReadRecord()
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("ReadRecord() error = %v, want bufio.ErrTooLong", err)
	}
}

// TestReadRecordCopies tests that returned records are not overwritten by
// later reads.
func TestReadRecordCopies(t *testing.T) {
	r := NewReader(strings.NewReader("111\n222\n"))

	first, _ := r.ReadRecord()
	second, _ := r.ReadRecord()
	if string(first) != "111" || string(second) != "222" {
		t.Errorf("records = %q, %q; want 111, 222", first, second)
	}
}
