// Package logx configures the process-wide zerolog logger. Agent runs
// emit structured JSON by default; PrettyFormat switches to the console
// writer for local operation.
package logx

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool `split_words:"true" default:"false"`
	PrettyFormat bool `split_words:"true" default:"false"`
}

// Init replaces the global logger. Call once at boot, before any
// component logs.
func Init(opts ...Config) {
	var conf Config
	if len(opts) > 0 {
		conf = opts[0]
	}

	out := zerolog.New(os.Stdout)
	if conf.PrettyFormat {
		out = zerolog.New(zerolog.NewConsoleWriter())
	}

	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}

	log.Logger = out.Level(level).With().Timestamp().Caller().Stack().Logger()
}
