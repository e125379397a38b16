package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup builds the process logger. dev switches to a console writer at debug level.
func Setup(dev bool) zerolog.Logger {
	return setup(os.Stderr, dev)
}

// SetupGlobal builds the process logger and installs it as the global logger.
func SetupGlobal(dev bool) zerolog.Logger {
	logger := Setup(dev)
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}

func setup(out io.Writer, dev bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}
