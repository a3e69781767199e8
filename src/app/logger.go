package app

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the root console logger and sets the global level.
// Unknown level strings fall back to info.
func InitLogger(levelStr string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
