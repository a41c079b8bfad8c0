// Package logging provides a rotating diagnostic log for harlite's
// unattended long-running commands (watch, cdp). CLI-interactive commands
// keep writing straight to stderr/stdout per spec §9; a rotating file sink
// is only needed where no terminal is attached to read from.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating log file. A zero value disables
// rotation and logs go to os.Stderr only.
type Options struct {
	// Path to the log file. Empty disables file logging.
	Path string

	// MaxSizeMB is the size a log file reaches before it gets rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	MaxBackups int
	// MaxAgeDays is the max age in days to retain rotated files.
	MaxAgeDays int
}

func (o Options) withDefaults() Options {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 28
	}
	return o
}

// New returns a *log.Logger that writes to stderr, and additionally to a
// rotating file at opts.Path when set. The returned io.Closer flushes and
// releases the file handle; callers should defer its Close.
func New(prefix string, opts Options) (*log.Logger, io.Closer, error) {
	if opts.Path == "" {
		return log.New(os.Stderr, prefix, log.LstdFlags), io.NopCloser(nil), nil
	}

	opts = opts.withDefaults()
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	w := io.MultiWriter(os.Stderr, lj)
	return log.New(w, prefix, log.LstdFlags), lj, nil
}
