package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the run logger: a human-readable console writer on
// stderr, plus a file writer under logDir when logToFile is set. The caller
// closes the returned closer when the run ends; it is a no-op for
// console-only loggers.
func InitLogger(level, logDir string, logToFile bool) (zerolog.Logger, io.Closer, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}}

	var closer io.Closer = nopCloser{}
	if logToFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		f, err := os.OpenFile(
			filepath.Join(logDir, "osslup.log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0o600,
		)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
