package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		for _, format := range []string{"json", "console"} {
			log, err := New(Config{Level: "info", Format: format, Output: "stderr"})
			if err != nil {
				t.Fatalf("Failed to create %s logger: %v", format, err)
			}
			if log.Level() != zapcore.InfoLevel {
				t.Errorf("Expected info level, got %s", log.Level())
			}
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
			t.Error("Expected error for invalid level")
		}
	})

	t.Run("InvalidOutput", func(t *testing.T) {
		if _, err := New(Config{Level: "info", Format: "json", Output: "syslog"}); err == nil {
			t.Error("Expected error for unsupported output")
		}
	})

	t.Run("FileOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		log, err := New(Config{
			Level:  "debug",
			Format: "json",
			Output: "stderr",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}

		log.Info("written to file", zap.Int("entities", 3))
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "written to file") {
			t.Errorf("Log file missing entry: %s", data)
		}
	})
}

func TestFileWriter(t *testing.T) {
	t.Run("Settings", func(t *testing.T) {
		w := newFileWriter(&FileConfig{Enabled: true, Path: "logs/app.log", MaxSize: 50, MaxAge: 7, Compress: true})
		if w.Filename != "logs/app.log" || w.MaxSize != 50 || w.MaxAge != 7 || !w.Compress {
			t.Errorf("Rotation settings not applied: %+v", w)
		}
	})

	t.Run("Rotate", func(t *testing.T) {
		dir := t.TempDir()
		w := newFileWriter(&FileConfig{Enabled: true, Path: filepath.Join(dir, "app.log")})
		defer w.Close()

		if _, err := w.Write([]byte("first\n")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if err := w.Rotate(); err != nil {
			t.Fatalf("Failed to rotate: %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("Failed to list log dir: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("Expected active and rotated file, got %d entries", len(entries))
		}
	})

	t.Run("MissingPath", func(t *testing.T) {
		if _, err := New(Config{Level: "info", Format: "json", File: &FileConfig{Enabled: true}}); err == nil {
			t.Error("Expected error for file logging without a path")
		}
	})
}

func TestSetLevel(t *testing.T) {
	log, err := New(Config{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	child := log.WithComponent("server").WithRequestID("req-1")

	if err := log.SetLevel("debug"); err != nil {
		t.Fatalf("Failed to set level: %v", err)
	}
	if !child.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Derived loggers should follow the parent level")
	}

	if err := log.SetLevel("loud"); err == nil {
		t.Error("Expected error for invalid level")
	}
	if log.Level() != zapcore.DebugLevel {
		t.Errorf("Invalid level must not change the current level, got %s", log.Level())
	}
}
