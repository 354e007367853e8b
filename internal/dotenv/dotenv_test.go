package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file error: %v", err)
	}
}

func TestLoad_LoadsValuesAndPreservesExisting(t *testing.T) {
	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, ".env")
	content := "" +
		"# comment\n" +
		"FROM_FILE=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")
	t.Setenv("FROM_FILE", "")
	os.Unsetenv("FROM_FILE")
	t.Setenv("QUOTED", "")
	os.Unsetenv("QUOTED")
	t.Setenv("EXPORTED", "")
	os.Unsetenv("EXPORTED")

	if err := Load(envPath); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got := os.Getenv("FROM_FILE"); got != "loaded" {
		t.Fatalf("FROM_FILE=%q, want %q", got, "loaded")
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("QUOTED=%q, want %q", got, "hello world")
	}
	if got := os.Getenv("EXPORTED"); got != "ok" {
		t.Fatalf("EXPORTED=%q, want %q", got, "ok")
	}
	if got := os.Getenv("EXISTING"); got != "already_set" {
		t.Fatalf("EXISTING=%q, want existing value preserved", got)
	}
}

func TestLoad_FirstFileWins(t *testing.T) {
	tempDir := t.TempDir()
	first := filepath.Join(tempDir, ".env")
	second := filepath.Join(tempDir, ".env.local")
	if err := os.WriteFile(first, []byte("LAYERED=first\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := os.WriteFile(second, []byte("LAYERED=second\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("LAYERED", "")
	os.Unsetenv("LAYERED")

	if err := Load(first, second); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("LAYERED"); got != "first" {
		t.Fatalf("LAYERED=%q, want %q", got, "first")
	}
}
