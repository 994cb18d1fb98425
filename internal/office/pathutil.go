package office

import (
	"os"
	"strings"
)

const (
	defaultPathMaxLen = 35
	defaultWordMaxLen = 30
)

// CompressPath shortens a file path for bubble display: the home
// directory collapses to ~ and long paths are head-truncated so the
// filename survives.
func CompressPath(path string, maxLen int) string {
	if path == "" {
		return ""
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home) {
		path = "~" + path[len(home):]
	}

	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-(maxLen-3):]
}

// CompressPathsInText collapses home directory references to ~
// throughout a string.
func CompressPathsInText(text string) string {
	if text == "" {
		return ""
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return strings.ReplaceAll(text, home, "~")
	}
	return text
}

// TruncateLongWords shortens individual words that would overflow a
// bubble, leaving normal prose untouched.
func TruncateLongWords(text string, maxLen int) string {
	if text == "" {
		return ""
	}
	words := strings.Fields(text)
	for i, w := range words {
		if len(w) > maxLen {
			words[i] = w[:maxLen-3] + "..."
		}
	}
	return strings.Join(words, " ")
}
