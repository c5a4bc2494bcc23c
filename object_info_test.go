package objectdal

import "testing"

func TestNewObjectEntryMode(t *testing.T) {
	tests := []struct {
		path string
		meta ObjectMetadata
		want ObjectMode
	}{
		{"a/b", NewObjectMetadata(ObjectModeUnknown), ObjectModeFile},
		{"a/b/", NewObjectMetadata(ObjectModeUnknown), ObjectModeDir},
		{"a/b", NewObjectMetadata(ObjectModeFile).WithContentLength(3), ObjectModeFile},
		{"a/b/", NewObjectMetadata(ObjectModeDir), ObjectModeDir},
	}
	for _, tt := range tests {
		e := NewObjectEntry(tt.path, tt.meta)
		if e.Mode() != tt.want {
			t.Errorf("NewObjectEntry(%q).Mode() = %v, want %v", tt.path, e.Mode(), tt.want)
		}
	}
	if e := NewObjectEntry("f", NewObjectMetadata(ObjectModeFile).WithContentLength(3)); e.Metadata.ContentLength != 3 {
		t.Errorf("ContentLength = %d, want 3", e.Metadata.ContentLength)
	}
}
