// Package logging builds the application's slog.Logger.
//
// Logs always go to stdout. When a log file is configured they are also
// written to a file rotated once a day, keeping a week of history:
//
//	LOG_FILE=/var/log/chatcode/app.log
//	→ /var/log/chatcode/app.log.20261019  (current day)
//	→ /var/log/chatcode/app.log           (symlink to the current file)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

const (
	rotationTime = 24 * time.Hour
	maxAge       = 7 * 24 * time.Hour
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn or error; anything else means info
	File  string // optional path of the rotated log file
}

// New returns a text logger and a close function that releases the log
// file, if any. The close function is never nil.
func New(opts Options) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }

	if opts.File != "" {
		rl, err := rotatelogs.New(
			opts.File+".%Y%m%d",
			rotatelogs.WithLinkName(opts.File),
			rotatelogs.WithRotationTime(rotationTime),
			rotatelogs.WithMaxAge(maxAge),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: opening %s: %w", opts.File, err)
		}
		w = io.MultiWriter(os.Stdout, rl)
		closeFn = rl.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}))
	return logger, closeFn, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
