package utils

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the logger shared by every component.
var Log zerolog.Logger

func SetLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug || os.Getenv("BOOTKEY_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func init() {
	SetLogger(false)
}
