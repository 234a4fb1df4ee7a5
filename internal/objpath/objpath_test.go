package objpath

import (
	"errors"
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		key    string
	}{
		{"bucket", "bucket", ""},
		{"bucket/", "bucket", ""},
		{"bucket/a/b.txt", "bucket", "a/b.txt"},
		{"/bucket/a//b/", "bucket", "a/b"},
		{"bucket/a/./c", "bucket", "a/c"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := Split(tt.in)
			if err != nil {
				t.Fatalf("Split(%q): %v", tt.in, err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("Split(%q) = %q, %q; want %q, %q", tt.in, bucket, key, tt.bucket, tt.key)
			}
			if got := Join(bucket, key); key != "" && got != tt.bucket+"/"+tt.key {
				t.Errorf("Join = %q", got)
			}
		})
	}
}

func TestSplitNoBucket(t *testing.T) {
	for _, in := range []string{"", "/", "///"} {
		if _, _, err := Split(in); !errors.Is(err, ErrNoBucket) {
			t.Errorf("Split(%q) err = %v, want ErrNoBucket", in, err)
		}
	}
}

func TestDirPrefixAndBase(t *testing.T) {
	if DirPrefix("") != "" || DirPrefix("a/b") != "a/b/" {
		t.Error("unexpected DirPrefix")
	}
	if Base("a/b/") != "b" || Base("c.txt") != "c.txt" {
		t.Error("unexpected Base")
	}
}

func TestAddressable(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"a/b.txt", true},
		{"dir/", true},
		{"a b/é.txt", true},
		{"a//b.txt", false},
		{"/a.txt", false},
		{"a/../b.txt", false},
		{"../../etc/passwd", false},
		{"./a.txt", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Addressable(tt.key); got != tt.want {
			t.Errorf("Addressable(%q) = %v, want %v", tt.key, got, tt.want)
		}
		if tt.want {
			_, key, _ := Split("bucket/" + tt.key)
			if key != strings.TrimSuffix(tt.key, "/") {
				t.Errorf("Split(bucket/%s) key = %q", tt.key, key)
			}
		}
	}
}
