package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// InitLogging wires the global logger: one log file per calendar day under
// the logs dir, plus a console writer on stderr. Verbose switches the
// console from warnings-only to full debug output.
func InitLogging(cfg Config, verbose bool) error {
	if err := os.MkdirAll(cfg.LogsDir(), 0o750); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogsDir(), time.Now().Format("2006-01-02")+".log"),
		MaxSize:    1,
		MaxBackups: 2,
	}

	consoleLevel := zerolog.WarnLevel
	if verbose || cfg.DebugLogging {
		consoleLevel = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(
		fileWriter,
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  consoleLevel,
		},
	)).With().Timestamp().Logger()

	return nil
}
