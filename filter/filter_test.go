package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFilterInclude(t *testing.T) {
	f := New(
		Include("*.pdf"),
		Include("*.docx"),
	)

	tests := []struct {
		item Item
		want bool
	}{
		{Item{Path: "q3.pdf"}, true},
		{Item{Path: "Reports/q3.pdf"}, true},
		{Item{Path: "notes.docx"}, true},
		{Item{Path: "photo.jpg"}, false},
		{Item{Path: "Photos", IsDir: true}, true},
	}

	for _, tc := range tests {
		got := f.Match(tc.item)
		if got != tc.want {
			t.Errorf("Match(%+v) = %v, want %v", tc.item, got, tc.want)
		}
	}
}

func TestFilterExclude(t *testing.T) {
	f := New(
		Exclude("*.tmp"),
		Exclude("Archive/"),
	)

	tests := []struct {
		item Item
		want bool
	}{
		{Item{Path: "report.pdf"}, true},
		{Item{Path: "scratch.tmp"}, false},
		{Item{Path: "Drafts/scratch.tmp"}, false},
		{Item{Path: "Archive", IsDir: true}, false},
		{Item{Path: "Old/Archive", IsDir: true}, false},
		{Item{Path: "Archive"}, true},
	}

	for _, tc := range tests {
		got := f.Match(tc.item)
		if got != tc.want {
			t.Errorf("Match(%+v) = %v, want %v", tc.item, got, tc.want)
		}
	}
}

func TestFilterSize(t *testing.T) {
	f := New(MinSize(100), MaxSize(1*MB))

	tests := []struct {
		size int64
		want bool
	}{
		{50, false},
		{100, true},
		{500 * KB, true},
		{2 * MB, false},
	}

	for _, tc := range tests {
		got := f.Match(Item{Path: "file.bin", Size: tc.size})
		if got != tc.want {
			t.Errorf("Match(size=%d) = %v, want %v", tc.size, got, tc.want)
		}
	}

	if !f.Match(Item{Path: "Folder", IsDir: true}) {
		t.Error("size rules should not apply to folders")
	}
}

func TestFilterAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := New(
		MinAge(24*time.Hour),
		MaxAge(7*24*time.Hour),
		WithClock(func() time.Time { return now }),
	)

	tests := []struct {
		modTime time.Time
		want    bool
	}{
		{now.Add(-12 * time.Hour), false},
		{now.Add(-24 * time.Hour), true},
		{now.Add(-6 * 24 * time.Hour), true},
		{now.Add(-14 * 24 * time.Hour), false},
	}

	for _, tc := range tests {
		got := f.Match(Item{Path: "file.txt", ModTime: tc.modTime})
		if got != tc.want {
			t.Errorf("Match(age=%v) = %v, want %v", now.Sub(tc.modTime), got, tc.want)
		}
	}
}

func TestFilterNilAndEmpty(t *testing.T) {
	var nilFilter *Filter
	for _, f := range []*Filter{nilFilter, New()} {
		if !f.Match(Item{Path: "anything.txt"}) {
			t.Error("empty filter should match everything")
		}
		if !f.IsEmpty() {
			t.Error("IsEmpty() = false, want true")
		}
	}
}

func TestFilterFromReader(t *testing.T) {
	rules := `# Only documents
+ *.pdf
- Drafts/
scratch*
`
	opt, err := FromReader(strings.NewReader(rules))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	f := New(opt)

	tests := []struct {
		item Item
		want bool
	}{
		{Item{Path: "a.pdf"}, true},
		{Item{Path: "a.txt"}, false},
		{Item{Path: "scratch.pdf"}, false},
		{Item{Path: "Drafts", IsDir: true}, false},
		{Item{Path: "Final", IsDir: true}, true},
	}
	for _, tc := range tests {
		if got := f.Match(tc.item); got != tc.want {
			t.Errorf("Match(%+v) = %v, want %v", tc.item, got, tc.want)
		}
	}
}

func TestFilterFromFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "filters.txt")
	if err := os.WriteFile(name, []byte("- *.bak\n"), 0600); err != nil {
		t.Fatalf("Failed to write filter file: %v", err)
	}

	opt, err := FromFile(name)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	f := New(opt)
	if f.MatchPath("old.bak") {
		t.Error("MatchPath(old.bak) = true, want false")
	}
	if !f.MatchPath("new.doc") {
		t.Error("MatchPath(new.doc) = false, want true")
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("FromFile should fail for nonexistent file")
	}
}

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.json", "file.json", true},
		{"*.json", "dir/file.json", true},
		{"data/*", "data/file.txt", true},
		{"*.txt", "file.json", false},
		{"**.txt", "a/b/file.txt", true},
		{"[a-z]*.go", "abc.go", true},
	}

	for _, tc := range tests {
		got := matchPattern(tc.pattern, tc.path)
		if got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}
