// Package logger records pass snapshots to CSV files with automatic rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

// Logger writes one CSV row per batch: a timestamp followed by one column
// per parameter id.
type Logger struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	log     zerolog.Logger

	file    *os.File
	writer  *csv.Writer
	columns []string
	rows    int
}

// Config holds logger configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

const (
	maxRowsPerFile = 100_000 // ~35 days at one batch per 30s
)

// New creates a new Logger.
func New(cfg Config, log zerolog.Logger) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/danfoss-air"
	}
	return &Logger{
		dir:     cfg.Path,
		enabled: cfg.Enabled,
		log:     log.With().Str("component", "recorder").Logger(),
	}
}

// SetEnabled allows toggling recording at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently written to, if any.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Record writes a batch snapshot.
func (l *Logger) Record(ts time.Time, readings []dfair.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || len(readings) == 0 {
		return
	}

	// A new parameter layout starts a new file so columns stay aligned.
	if l.writer == nil || l.rows >= maxRowsPerFile || !sameColumns(l.columns, readings) {
		if err := l.rotateFile(ts, readings); err != nil {
			l.log.Error().Err(err).Msg("rotate failed")
			return
		}
	}

	if err := l.writer.Write(buildRow(ts, readings)); err != nil {
		l.log.Error().Err(err).Msg("write failed")
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time, readings []dfair.Reading) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("danfoss_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0
	l.columns = make([]string, len(readings))
	for i, r := range readings {
		l.columns[i] = r.ID
	}

	header := append([]string{"timestamp"}, l.columns...)
	if err := l.writer.Write(header); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Info().Str("path", path).Msg("opened")
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func sameColumns(cols []string, readings []dfair.Reading) bool {
	if len(cols) != len(readings) {
		return false
	}
	for i, r := range readings {
		if cols[i] != r.ID {
			return false
		}
	}
	return true
}

func buildRow(ts time.Time, readings []dfair.Reading) []string {
	row := make([]string, len(readings)+1)
	row[0] = ts.Format(time.RFC3339)
	for i, r := range readings {
		row[i+1] = formatValue(r.Value)
	}
	return row
}

// formatValue leaves never-read parameters empty.
func formatValue(v dfair.Value) string {
	switch {
	case v.IsUnread():
		return ""
	case v.IsBool():
		return boolStr(v.Bool())
	}
	return strconv.FormatFloat(v.Float(), 'f', -1, 64)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
