package config

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jpalmerr/subtrack"
)

func TestBuildOptions_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	st, err := subtrack.New(BuildOptions(cfg)...)
	if err != nil {
		t.Fatalf("subtrack.New() error = %v", err)
	}

	if st.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", st.Port())
	}
	if st.PollInterval() != cfg.PollInterval.Duration() {
		t.Errorf("PollInterval() = %v, want %v", st.PollInterval(), cfg.PollInterval.Duration())
	}
	if len(st.Subreddits()) != 0 {
		t.Errorf("Subreddits() = %v, want empty", st.Subreddits())
	}
}

func TestBuildOptions_FullConfig(t *testing.T) {
	yaml := `
port: 9191
poll_interval: 3s
workers: 2
batch_size: 50
queue:
  capacity: 10
  overflow: drop-newest
quota:
  initial_remaining: 30
reddit:
  base_url: http://localhost:9999
  user_agent: test-agent
subreddits: [golang, rust]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	st, err := subtrack.New(BuildOptions(cfg)...)
	if err != nil {
		t.Fatalf("subtrack.New() error = %v", err)
	}

	if st.Port() != 9191 {
		t.Errorf("Port() = %d, want 9191", st.Port())
	}
	if got := st.Subreddits(); len(got) != 2 || got[0] != "golang" || got[1] != "rust" {
		t.Errorf("Subreddits() = %v, want [golang rust]", got)
	}
}

func TestBuildOptions_OutOfRangeFailsInNew(t *testing.T) {
	// hand-built, bypassing Parse validation
	cfg := &Config{Port: 0, PollInterval: Duration(0)}

	_, err := subtrack.New(BuildOptions(cfg)...)
	if err == nil {
		t.Fatal("subtrack.New() expected error for unvalidated config")
	}
}

func TestBuildOptions_QuotaSection(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"omitted", `subreddits: [golang]`},
		{"remaining only", "quota:\n  initial_remaining: 5\n"},
		{"reset only", "quota:\n  initial_reset: 2m\n"},
		{"exhausted", "quota:\n  initial_remaining: 0\n  initial_reset: 30s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if _, err := subtrack.New(BuildOptions(cfg)...); err != nil {
				t.Errorf("subtrack.New() error = %v", err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "subreddit", "golang")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("log output is not one JSON record: %v\n%s", err, out)
	}
	if rec["msg"] != "shown" || rec["subreddit"] != "golang" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{LogLevel: "verbose"}, &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %s", out)
	}
}
