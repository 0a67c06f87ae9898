package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"go-dm/internal/config"
)

// New builds the process logger from config. verbose forces debug level.
func New(cfg config.Log, verbose bool) *log.Logger {
	return newWithWriter(os.Stderr, cfg, verbose)
}

func newWithWriter(w io.Writer, cfg config.Log, verbose bool) *log.Logger {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}

	formatter := log.TextFormatter
	if cfg.Format == "json" {
		formatter = log.JSONFormatter
	}

	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	log.SetDefault(l)
	return l
}
