package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger from the log flags.
// The returned func closes the log file, if any.
func newLogger(c *cli.Context) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.String("log-level")))
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("invalid --log-level: %w", err)
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	if file := c.String("log-file"); file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = lj
		closer = func() { lj.Close() }
		isTTY = false
	}

	format := c.String("log-format")
	if format == "" {
		format = "json"
		if isTTY {
			format = "console"
		}
	}
	switch format {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTTY}
	default:
		closer()
		return zerolog.Nop(), func() {}, fmt.Errorf("invalid --log-format %q: must be console or json", format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}
