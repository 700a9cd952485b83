package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsSkipped(t *testing.T) {
	t.Parallel()
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
}

func TestLoad_SetsValuesWithoutClobbering(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"SETUPLENS_API_KEY=sk-local\n" +
		"SETUPLENS_URL=\"wss://rt.example.com/v1\"\n" +
		"export SETUPLENS_PROMPT='be brief'\n" +
		"SETUPLENS_MODE=from_file\n" +
		"not a pair\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("SETUPLENS_MODE", "from_shell")

	if err := Load(envPath); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := os.Getenv("SETUPLENS_API_KEY"); got != "sk-local" {
		t.Fatalf("SETUPLENS_API_KEY=%q", got)
	}
	if got := os.Getenv("SETUPLENS_URL"); got != "wss://rt.example.com/v1" {
		t.Fatalf("SETUPLENS_URL=%q, quotes not stripped", got)
	}
	if got := os.Getenv("SETUPLENS_PROMPT"); got != "be brief" {
		t.Fatalf("SETUPLENS_PROMPT=%q", got)
	}
	if got := os.Getenv("SETUPLENS_MODE"); got != "from_shell" {
		t.Fatalf("SETUPLENS_MODE=%q, shell value must win", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = spaced  ", "KEY", "spaced", true},
		{"export KEY=v", "KEY", "v", true},
		{`KEY="a b"`, "KEY", "a b", true},
		{"KEY='a b'", "KEY", "a b", true},
		{"KEY=", "KEY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=orphan", "", "", false},
		{"no assignment", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Fatalf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
