package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	logger.Info("Test logger initialization")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Setenv(levelEnv, "chatty")
	if _, err := NewLogger(); err == nil {
		t.Fatal("Expected error for unknown log level")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presenced.log")
	t.Setenv(fileEnv, path)
	t.Setenv(levelEnv, "debug")

	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("Hello from the rotated file")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	if len(data) == 0 {
		t.Error("Log file is empty")
	}
}
