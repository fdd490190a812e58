// internal/storage/archive/s3_test.go
package archive

import (
	"strings"
	"testing"
)

func TestS3Storage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*S3Storage)(nil)
}

func TestS3Config_Key(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "run-1/summary.json", "run-1/summary.json"},
		{"backtests", "run-1/summary.json", "backtests/run-1/summary.json"},
		{"backtests/", "run-1/summary.json", "backtests/run-1/summary.json"},
	}

	for _, tt := range tests {
		s := &S3Storage{prefix: strings.TrimSuffix(tt.prefix, "/")}
		got := s.key(tt.path)
		if got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
		if rel := s.relative(got); rel != tt.path {
			t.Errorf("relative(%q) = %q, want %q", got, rel, tt.path)
		}
	}
}

func TestNewS3(t *testing.T) {
	s, err := NewS3(S3Config{Bucket: "results", Endpoint: "http://localhost:9000", Region: "us-east-1", Prefix: "bt/"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if s.bucket != "results" || s.prefix != "bt" {
		t.Errorf("NewS3 = bucket %q prefix %q", s.bucket, s.prefix)
	}
}
