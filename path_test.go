package svnbridge

import "testing"

func TestJoinSplitRoundTrip(t *testing.T) {
	tests := []struct {
		dir, name string
		joined    string
	}{
		{"$/proj", "file.h", "$/proj/file.h"},
		{"$/proj/sub", "a b", "$/proj/sub/a b"},
		{"$/", "proj", "$/proj"},
		{"$/proj/", "file.h", "$/proj/file.h"},
	}
	for _, test := range tests {
		got := JoinPath(test.dir, test.name)
		if got != test.joined {
			t.Errorf("JoinPath(%q, %q): got %q, want %q", test.dir, test.name, got, test.joined)
			continue
		}
		dir, name := SplitPath(got)
		wantDir := test.dir
		if wantDir != ServerRootPath {
			// modulo trailing-slash normalization
			if len(wantDir) > 0 && wantDir[len(wantDir)-1] == '/' {
				wantDir = wantDir[:len(wantDir)-1]
			}
		}
		if dir != wantDir || name != test.name {
			t.Errorf("SplitPath(%q): got (%q, %q), want (%q, %q)", got, dir, name, wantDir, test.name)
		}
	}
}

func TestParentPath(t *testing.T) {
	tests := []struct{ path, want string }{
		{"$/proj/dir/file.h", "$/proj/dir"},
		{"$/proj", "$/"},
		{"$/", "$/"},
		{"$", "$/"},
		{"", "$/"},
		{"$/proj/dir/", "$/proj"},
	}
	for _, test := range tests {
		if got := ParentPath(test.path); got != test.want {
			t.Errorf("ParentPath(%q): got %q, want %q", test.path, got, test.want)
		}
	}
}

func TestSegments(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"$/proj/dir/file.h", []string{"proj", "dir", "file.h"}},
		{"$/", nil},
		{"$", nil},
		{"$/proj/", []string{"proj"}},
	}
	for _, test := range tests {
		got := Segments(test.path)
		if len(got) != len(test.want) {
			t.Errorf("Segments(%q): got %v, want %v", test.path, got, test.want)
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("Segments(%q): got %v, want %v", test.path, got, test.want)
				break
			}
		}
	}
}

func TestCasePolicy(t *testing.T) {
	insensitive := CasePolicy{Sensitive: false}
	sensitive := CasePolicy{Sensitive: true}

	if !insensitive.Equal("foo", "FOO") {
		t.Error("insensitive: foo vs FOO should be equal")
	}
	if sensitive.Equal("foo", "FOO") {
		t.Error("sensitive: foo vs FOO should differ")
	}
	if !insensitive.PreciseMismatch("$/P/foo", "$/P/FOO") {
		t.Error("PreciseMismatch should report a case-only difference")
	}
	if insensitive.PreciseMismatch("$/P/foo", "$/P/foo") {
		t.Error("PreciseMismatch should not fire on identical paths")
	}
	if insensitive.PreciseMismatch("$/P/foo", "$/P/bar") {
		t.Error("PreciseMismatch should not fire on unrelated paths")
	}
	if !insensitive.IsAncestor("$/proj", "$/PROJ/dir/file.h") {
		t.Error("insensitive IsAncestor should fold case")
	}
	if sensitive.IsAncestor("$/proj", "$/PROJ/dir") {
		t.Error("sensitive IsAncestor should not fold case")
	}
	if insensitive.IsAncestor("$/proj", "$/projects/dir") {
		t.Error("IsAncestor must match whole segments")
	}
	if !insensitive.UnderRoot("$/proj", "$/proj") {
		t.Error("UnderRoot includes the root itself")
	}
}
