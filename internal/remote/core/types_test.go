package core

import "testing"

func TestCleanPath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"SST", "/SST", false},
		{"/SST/", "/SST", false},
		{"/a//b/./c", "/a/b/c", false},
		{"/a/../b", "", true},
		{"  ", "", true},
	}
	for _, tc := range cases {
		got, err := CleanPath(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("CleanPath(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestWithinIgnoresCase(t *testing.T) {
	if !Within("/sst/File.csv", "/SST") || !Within("/SST", "/sst") {
		t.Fatalf("expected case-insensitive containment")
	}
	if Within("/SST_2", "/SST") {
		t.Fatalf("sibling with shared prefix must not match")
	}
}
