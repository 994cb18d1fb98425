// Package transcript reads Claude Code JSONL transcript files. All
// functions are best-effort: a missing file or malformed line yields a
// zero result, never an error the caller has to handle.
package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// Usage is the token usage block attached to assistant messages.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// TotalInput is the full context cost: fresh input plus cache traffic.
func (u Usage) TotalInput() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

type record struct {
	Type    string  `json:"type"`
	Message message `json:"message"`
}

type message struct {
	Role    string          `json:"role"`
	Usage   *Usage          `json:"usage"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

// tailUsageBytes bounds how much of the file LatestUsage inspects.
const tailUsageBytes = 20000

// LatestUsage returns the most recent usage block near the end of a
// transcript. ok is false when the file is missing or carries no usage.
func LatestUsage(path string) (in, out int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, false
	}

	start := info.Size() - tailUsageBytes
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, 0, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, 0, false
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Message.Usage != nil {
			u := rec.Message.Usage
			return u.TotalInput(), u.OutputTokens, true
		}
	}

	return 0, 0, false
}

// CountToolUses counts tool_use content blocks in a transcript.
func CountToolUses(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	content := string(data)
	return strings.Count(content, `"type":"tool_use"`) + strings.Count(content, `"type": "tool_use"`)
}

// LatestThinking returns the final thinking block in a transcript.
// Useful when an agent stops without emitting any assistant text.
func LatestThinking(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" {
			continue
		}

		var blocks []contentBlock
		if err := json.Unmarshal(rec.Message.Content, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "thinking" && b.Thinking != "" {
				last = b.Thinking
			}
		}
	}

	return last, last != ""
}

// LastAssistantResponse returns the final assistant text block in a
// transcript, scanning the whole file line by line.
func LastAssistantResponse(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != "assistant" || rec.Message.Role != "assistant" {
			continue
		}

		var blocks []contentBlock
		if err := json.Unmarshal(rec.Message.Content, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				last = b.Text
			}
		}
	}

	return last, last != ""
}
