// Package summary produces short display strings for the office UI:
// agent nicknames, task one-liners, and report-intent detection. An
// optional completion client improves the output; every method degrades
// to a deterministic local fallback when the client is absent or fails.
package summary

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"regexp"
	"strings"
)

// Client is the minimal completion capability the service consumes.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Result carries a summary together with its provenance so call sites
// can tell a degraded answer from a real one.
type Result struct {
	Text         string
	FromFallback bool
}

type Service struct {
	client  Client
	enabled bool
}

// NewService returns a summary service. A nil client disables remote
// summarization and every call answers from the local fallbacks.
func NewService(client Client, enabled bool) *Service {
	return &Service{client: client, enabled: enabled && client != nil}
}

// Enabled reports whether remote summarization is active.
func (s *Service) Enabled() bool {
	return s.enabled
}

func (s *Service) complete(ctx context.Context, prompt string) (string, bool) {
	if !s.enabled {
		return "", false
	}
	text, err := s.client.Complete(ctx, prompt)
	if err != nil {
		log.Printf("summary request failed, using fallback: %v", err)
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

// SummarizeUserPrompt condenses a user prompt for marquee display.
// Short single-sentence prompts pass through unchanged.
func (s *Service) SummarizeUserPrompt(ctx context.Context, prompt string) Result {
	if prompt == "" {
		return Result{FromFallback: true}
	}

	collapsed := strings.Join(strings.Fields(prompt), " ")
	if len(collapsed) <= 120 && strings.Count(collapsed, ".") <= 1 {
		return Result{Text: collapsed, FromFallback: true}
	}

	if text, ok := s.complete(ctx, "In one sentence, summarize what this request asks for:\n"+clip(prompt, 1500)); ok {
		return Result{Text: strings.Join(strings.Fields(text), " ")}
	}
	return Result{Text: FirstSentence(prompt, 150), FromFallback: true}
}

// SummarizeAgentTask condenses a subagent task description.
func (s *Service) SummarizeAgentTask(ctx context.Context, task string) Result {
	if text, ok := s.complete(ctx, "In 10 words or less, summarize this task:\n"+clip(task, 1000)); ok {
		return Result{Text: text}
	}
	return Result{Text: FirstSentence(task, 50), FromFallback: true}
}

// SummarizeResponse condenses an assistant response for a speech bubble.
func (s *Service) SummarizeResponse(ctx context.Context, response string) Result {
	if text, ok := s.complete(ctx, "In 15 words or less, summarize this response:\n"+clip(response, 2000)); ok {
		return Result{Text: text}
	}
	return Result{Text: FirstSentence(response, 100), FromFallback: true}
}

var nameCleaner = regexp.MustCompile(`["'\-:.,!?()]`)

// AgentName produces a short nickname for an agent based on its task.
func (s *Service) AgentName(ctx context.Context, description string) Result {
	fallback := Result{Text: AgentNameFallback(description), FromFallback: true}

	text, ok := s.complete(ctx, fmt.Sprintf(
		"Create a 1-3 word nickname that DIRECTLY relates to the task below. "+
			"Extract the KEY ACTION or SUBJECT from the task and build the name around it. "+
			"Use puns, pop culture, or alliteration. Max 15 chars. "+
			"Task: %s\nNickname:", clip(description, 500)))
	if !ok {
		return fallback
	}

	clean := nameCleaner.ReplaceAllString(text, " ")
	var words []string
	for _, w := range strings.Fields(clean) {
		if len(w) > 1 {
			words = append(words, w)
		}
	}
	if len(words) == 0 || len(words) > 3 || len(clean) > 20 {
		return fallback
	}

	name := strings.Join(words, " ")
	if len(name) > 15 {
		if len(words) > 1 {
			name = strings.Join(words[:2], " ")
		} else {
			name = words[0][:15]
		}
	}
	if name == "" {
		return fallback
	}
	return Result{Text: name}
}

var mdFilePattern = regexp.MustCompile(`\b(create|write|generate|update|add)\b.*\.md\b`)

var reportKeywords = []string{
	"report", "document", "documentation", "readme", "write up", "writeup",
	"summary report", "create a doc", "generate a doc", "write a doc",
	"pdf", "markdown file", "md file", ".md",
	"architecture", "changelog", "contributing", "license", "guide",
}

// DetectReportRequest reports whether a prompt asks for a written
// report or document.
func (s *Service) DetectReportRequest(ctx context.Context, prompt string) bool {
	if prompt == "" {
		return false
	}

	lower := strings.ToLower(prompt)
	local := mdFilePattern.MatchString(lower)
	if !local {
		for _, kw := range reportKeywords {
			if strings.Contains(lower, kw) {
				local = true
				break
			}
		}
	}

	text, ok := s.complete(ctx, "Does this request ask for a report, document, or documentation "+
		"to be created? Reply with ONLY 'yes' or 'no':\n"+clip(prompt, 1000))
	if !ok {
		return local
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes":
		return true
	case "no":
		return false
	}
	return local
}

// FirstSentence extracts the first sentence of text as a fallback
// summary, truncating to maxLen.
func FirstSentence(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	limit := min(len(text), maxLen+50)
	for i := 0; i < limit; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && i >= 10 {
			sentence := strings.TrimSpace(text[:i+1])
			if len(sentence) > maxLen {
				return sentence[:maxLen-3] + "..."
			}
			return sentence
		}
	}

	if len(text) > maxLen {
		return text[:maxLen-3] + "..."
	}
	return text
}

type nameCategory struct {
	keywords []string
	names    []string
}

// Ordered so the same description always hits the same category.
var nameCategories = []nameCategory{
	{[]string{"review", "audit", "inspect", "qa", "quality"}, []string{"Judge Judy", "The Critic", "Hawkeye", "Inspector G", "The Auditor"}},
	{[]string{"test", "spec", "assert", "expect"}, []string{"Test Pilot", "Dr. Test", "QA Queen", "Bug Buster", "Test Dummy"}},
	{[]string{"validate", "verify", "check", "ensure"}, []string{"The Checker", "Validator V", "Fact Checker", "Truth Seeker"}},
	{[]string{"clean", "cleanup", "tidy", "organize"}, []string{"The Cleaner", "Mr. Clean", "Tidy Bot", "Neat Freak"}},
	{[]string{"format", "prettier", "lint", "style"}, []string{"Style Guru", "Format King", "Lint Lord", "Pretty Boy"}},
	{[]string{"refactor", "restructure", "reorganize"}, []string{"The Architect", "Refactor Rex", "Code Ninja", "Dr. Refactor"}},
	{[]string{"debug", "diagnose", "troubleshoot"}, []string{"Bug Hunter", "Dr. Debug", "Sherlock", "The Debugger"}},
	{[]string{"fix", "repair", "patch", "resolve"}, []string{"The Fixer", "Patch Adams", "Mr. Fixit", "Bug Squasher"}},
	{[]string{"doc", "document", "readme", "comment"}, []string{"The Scribe", "Doc Brown", "Word Wizard", "Note Taker"}},
	{[]string{"write", "create", "draft", "compose"}, []string{"The Writer", "Wordsmith", "Pen Pal", "Script Kid"}},
	{[]string{"research", "investigate", "explore", "analyze"}, []string{"The Scout", "Explorer X", "Data Digger", "Researcher R"}},
	{[]string{"search", "find", "locate", "discover"}, []string{"The Seeker", "Finder Fred", "Search Bot", "Tracker T"}},
	{[]string{"build", "implement", "develop"}, []string{"The Builder", "Code Monkey", "Dev Dawg", "Maker Mike"}},
	{[]string{"setup", "configure", "install", "init"}, []string{"Setup Sam", "Config Kid", "Init Ian", "Boot Boss"}},
	{[]string{"type", "typecheck", "typing"}, []string{"Type Tyrant", "Type Cop", "Type Ninja", "Mr. Strict"}},
	{[]string{"migrate", "upgrade", "update", "convert"}, []string{"The Migrator", "Upgrade Ulysses", "Version Vic", "Update Ursula"}},
	{[]string{"optimize", "performance", "speed", "fast"}, []string{"Speed Demon", "Turbo T", "Optimizer O", "Fast Freddy"}},
	{[]string{"security", "secure", "vulnerability", "auth"}, []string{"Security Sam", "Guard Dog", "Sec Spec", "Lock Smith"}},
	{[]string{"database", "sql", "query", "migration"}, []string{"Data Dan", "SQL Sally", "Query Queen", "DB Dude"}},
	{[]string{"api", "endpoint", "route", "backend"}, []string{"API Andy", "Route Runner", "Backend Bob", "Endpoint Ed"}},
	{[]string{"frontend", "ui", "component", "react", "css"}, []string{"UI Ursula", "Pixel Pete", "Front Fred", "Style Steve"}},
}

var genericNames = []string{
	"Code Cadet", "Bit Buddy", "Logic Larry", "Algo Al", "Helper Bot",
	"Task Force", "Agent X", "The Intern", "Worker Bee", "Minion",
}

// AgentNameFallback derives a nickname from task keywords. Selection
// within a category is keyed on the description so replaying the same
// event log reproduces the same roster.
func AgentNameFallback(description string) string {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return "The Intern"
	}

	for _, cat := range nameCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(desc, kw) {
				return cat.names[pick(desc, len(cat.names))]
			}
		}
	}
	return genericNames[pick(desc, len(genericNames))]
}

func pick(seed string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return int(h.Sum32() % uint32(n))
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
