package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestConfigureWritesFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "app.log")
	Configure(zerolog.InfoLevel, name)

	log.Debug().Msg("hidden")
	log.Info().Str("local_id", "abc").Msg("visible")

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
	if got := log.Logger.GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", got)
	}
}
