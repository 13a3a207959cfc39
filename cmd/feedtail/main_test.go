package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()

	if err := loadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v, want nil", err)
	}

	// Reading a directory fails after the open succeeds.
	if err := loadEnv(dir); err == nil {
		t.Error("unreadable env file: got nil error")
	}

	t.Setenv("FEEDTAIL_TEST_VAR", "")
	os.Unsetenv("FEEDTAIL_TEST_VAR")
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("FEEDTAIL_TEST_VAR=hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("FEEDTAIL_TEST_VAR"); got != "hello" {
		t.Errorf("FEEDTAIL_TEST_VAR = %q, want hello", got)
	}
}
