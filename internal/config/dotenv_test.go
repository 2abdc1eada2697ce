package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# server settings
TASKWIRE_DOTENV_A=plain
TASKWIRE_DOTENV_B="double quoted"
TASKWIRE_DOTENV_C='single quoted'

not a key value line
TASKWIRE_DOTENV_D = spaced
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	// Pre-set one var; the file must not override it.
	t.Setenv("TASKWIRE_DOTENV_A", "preset")
	for _, key := range []string{"TASKWIRE_DOTENV_B", "TASKWIRE_DOTENV_C", "TASKWIRE_DOTENV_D"} {
		os.Unsetenv(key)
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}

	if got := os.Getenv("TASKWIRE_DOTENV_A"); got != "preset" {
		t.Errorf("existing var overridden: %q", got)
	}
	if got := os.Getenv("TASKWIRE_DOTENV_B"); got != "double quoted" {
		t.Errorf("double quotes: %q", got)
	}
	if got := os.Getenv("TASKWIRE_DOTENV_C"); got != "single quoted" {
		t.Errorf("single quotes: %q", got)
	}
	if got := os.Getenv("TASKWIRE_DOTENV_D"); got != "spaced" {
		t.Errorf("spaces around =: %q", got)
	}
}

func TestLoadDotenvMissingFileIsIgnored(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
