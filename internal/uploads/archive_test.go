package uploads

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	now := time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{"with prefix", "uploads", "statement.csv", "uploads/7/2025/03/04/id1-statement.csv"},
		{"no prefix", "", "statement.csv", "7/2025/03/04/id1-statement.csv"},
		{"path stripped", "/uploads/", "../../etc/passwd", "uploads/7/2025/03/04/id1-passwd"},
		{"windows path", "uploads", `C:\Users\me\jan.csv.gz`, "uploads/7/2025/03/04/id1-jan.csv.gz"},
		{"empty name", "uploads", "", "uploads/7/2025/03/04/id1-upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ObjectName(tt.prefix, "7", "id1", tt.file, now); got != tt.want {
				t.Errorf("ObjectName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bucket/path/to/file.pdf", "bucket", "path/to/file.pdf", false},
		{"mem://local/a.csv", "local", "a.csv", false},
		{"gs://bucket", "", "", true},
		{"bucket/file", "", "", true},
		{"gs:///file", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			_, bucket, object, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI() = %q %q", bucket, object)
			}
		})
	}

	if got := FileName("gs://bucket/folder/file.pdf"); got != "file.pdf" {
		t.Errorf("FileName() = %q", got)
	}
}

func TestMemoryArchive(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryArchive()

	uri, err := a.Put(ctx, "uploads/7/x.csv", strings.NewReader("amount\n1\n"), "text/csv")
	if err != nil {
		t.Fatal(err)
	}
	rc, err := a.Open(ctx, uri)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", uri, err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "amount\n1\n" {
		t.Errorf("content = %q", data)
	}

	if _, err := a.Open(ctx, "mem://local/missing"); err == nil {
		t.Error("expected error for missing object")
	}
}
