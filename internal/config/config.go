package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Poll     PollConfig     `yaml:"poll"`
	Paths    PathsConfig    `yaml:"paths"`
	Summary  SummaryConfig  `yaml:"summary"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PollConfig struct {
	Interval          time.Duration `yaml:"interval"`
	TranscriptTimeout time.Duration `yaml:"transcript_timeout"`
	TaskTimeout       time.Duration `yaml:"task_timeout"`
}

// UnmarshalYAML accepts durations in the "1s" / "10m" form, which the
// yaml package does not handle for time.Duration on its own. Absent
// fields keep whatever value was already set.
func (p *PollConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval          string `yaml:"interval"`
		TranscriptTimeout string `yaml:"transcript_timeout"`
		TaskTimeout       string `yaml:"task_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	for _, field := range []struct {
		dst *time.Duration
		src string
	}{
		{&p.Interval, raw.Interval},
		{&p.TranscriptTimeout, raw.TranscriptTimeout},
		{&p.TaskTimeout, raw.TaskTimeout},
	} {
		if field.src == "" {
			continue
		}
		d, err := time.ParseDuration(field.src)
		if err != nil {
			return err
		}
		*field.dst = d
	}
	return nil
}

// PathsConfig handles host/container path differences when the server
// runs inside Docker but hooks report host-side paths.
type PathsConfig struct {
	ClaudeHost      string `yaml:"claude_host"`
	ClaudeContainer string `yaml:"claude_container"`
	TasksDir        string `yaml:"tasks_dir"`
}

type SummaryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Path: "visualizer.db",
		},
		Poll: PollConfig{
			Interval:          time.Second,
			TranscriptTimeout: 10 * time.Minute,
			TaskTimeout:       30 * time.Minute,
		},
		Paths: PathsConfig{
			TasksDir: filepath.Join(home, ".claude", "tasks"),
		},
		Summary: SummaryConfig{
			Enabled:   true,
			Model:     "claude-haiku-4-5-20251001",
			MaxTokens: 1000,
		},
	}
}

// TranslatePath rewrites a host-side path into its container-side
// equivalent. Paths outside the configured prefix pass through unchanged.
func (c *Config) TranslatePath(path string) string {
	if c.Paths.ClaudeHost == "" || c.Paths.ClaudeContainer == "" {
		return path
	}
	if !strings.HasPrefix(path, c.Paths.ClaudeHost) {
		return path
	}
	return c.Paths.ClaudeContainer + strings.TrimPrefix(path, c.Paths.ClaudeHost)
}

// TasksDirFor returns the task file directory for a session, applying
// path translation to the configured base directory.
func (c *Config) TasksDirFor(sessionID string) string {
	return filepath.Join(c.TranslatePath(c.Paths.TasksDir), sessionID)
}
