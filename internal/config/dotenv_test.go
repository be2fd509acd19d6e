package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv(t *testing.T) {
	content := `# Provider endpoints
LM_STUDIO_BASE_URL=http://10.0.0.2:1234/v1
export OLLAMA_BASE_URL=http://10.0.0.3:11434

# Quoted values
OPENAI_API_KEY="sk-test-value"
TAVILY_NOTE='single # quoted'

# Spaces and trailing comments
SPACED_KEY = spaced_value # note
`

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"LM_STUDIO_BASE_URL", "OLLAMA_BASE_URL", "OPENAI_API_KEY", "TAVILY_NOTE", "SPACED_KEY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if err := LoadDotenv(path); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, want string
	}{
		{"LM_STUDIO_BASE_URL", "http://10.0.0.2:1234/v1"},
		{"OLLAMA_BASE_URL", "http://10.0.0.3:11434"},
		{"OPENAI_API_KEY", "sk-test-value"},
		{"TAVILY_NOTE", "single # quoted"},
		{"SPACED_KEY", "spaced_value"},
	}

	for _, tt := range tests {
		got := os.Getenv(tt.key)
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadDotenvNoOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(`EXISTING_VAR=new-value`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING_VAR", "original")

	if err := LoadDotenv(path); err != nil {
		t.Fatal(err)
	}

	if got := os.Getenv("EXISTING_VAR"); got != "original" {
		t.Errorf("expected existing var to be preserved, got %q", got)
	}
}

func TestLoadDotenvFirstFileWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	if err := os.WriteFile(first, []byte("LAYERED=first\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("LAYERED=second\nONLY_SECOND=yes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LAYERED", "")
	os.Unsetenv("LAYERED")
	t.Setenv("ONLY_SECOND", "")
	os.Unsetenv("ONLY_SECOND")

	if err := LoadDotenv(first, second); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("LAYERED"); got != "first" {
		t.Errorf("LAYERED = %q, want first", got)
	}
	if got := os.Getenv("ONLY_SECOND"); got != "yes" {
		t.Errorf("ONLY_SECOND = %q, want yes", got)
	}
}

func TestLoadDotenvMissingFile(t *testing.T) {
	err := LoadDotenv("/nonexistent/.env")
	if err != nil {
		t.Errorf("missing file should be silently ignored, got: %v", err)
	}
}
