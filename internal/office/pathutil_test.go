package office

import (
	"os"
	"strings"
	"testing"
)

func TestCompressPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"short path unchanged", "/src/a.go", "/src/a.go"},
		{"long path head-truncated", "/home/user/deep/nested/path/file.py", "...er/deep/nested/path/file.py"},
	}

	for _, tt := range tests {
		if got := CompressPath(tt.input, 30); got != tt.want {
			t.Errorf("%s: CompressPath(%q) = %q, want %q", tt.name, tt.input, got, tt.want)
		}
	}
}

func TestCompressPathHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir available")
	}

	got := CompressPath(home+"/projects/a.go", 100)
	if got != "~/projects/a.go" {
		t.Errorf("CompressPath = %q, want ~/projects/a.go", got)
	}
}

func TestCompressPathBudget(t *testing.T) {
	long := "/very/long/prefix/that/keeps/going/and/going/file.py"
	got := CompressPath(long, 35)
	if len(got) != 35 {
		t.Errorf("len = %d, want exactly 35", len(got))
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "file.py") {
		t.Errorf("got %q, want ... prefix and filename suffix", got)
	}
}

func TestCompressPathsInText(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir available")
	}

	got := CompressPathsInText("cat " + home + "/a.txt " + home + "/b.txt")
	if got != "cat ~/a.txt ~/b.txt" {
		t.Errorf("CompressPathsInText = %q", got)
	}
}

func TestTruncateLongWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"short words unchanged", "run the tests", "run the tests"},
		{"long word truncated", "see " + strings.Repeat("a", 40), "see " + strings.Repeat("a", 27) + "..."},
	}

	for _, tt := range tests {
		if got := TruncateLongWords(tt.input, 30); got != tt.want {
			t.Errorf("%s: TruncateLongWords = %q, want %q", tt.name, got, tt.want)
		}
	}
}
