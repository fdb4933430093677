package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return rows
}

func TestRecord(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir}, zerolog.Nop())
	defer l.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []dfair.Reading{
		{ID: "temperature_room", Value: dfair.Number(21.5)},
		{ID: "boost", Value: dfair.Bool(true)},
		{ID: "fan_step", Value: dfair.Unread()},
	}
	l.Record(ts, batch)
	l.Record(ts.Add(30*time.Second), batch)

	files, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	rows := readCSV(t, files[0])
	if len(rows) != 3 {
		t.Fatalf("rows=%d want header+2", len(rows))
	}
	if got := rows[0]; got[0] != "timestamp" || got[1] != "temperature_room" || got[3] != "fan_step" {
		t.Fatalf("header=%v", got)
	}
	if got := rows[1]; got[0] != "2024-03-01T12:00:00Z" || got[1] != "21.5" || got[2] != "1" || got[3] != "" {
		t.Fatalf("row=%v", got)
	}
}

func TestRecordDisabled(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir}, zerolog.Nop())
	l.Record(time.Now(), []dfair.Reading{{ID: "a", Value: dfair.Number(1)}})
	if files, _ := filepath.Glob(filepath.Join(dir, "*.csv")); len(files) != 0 {
		t.Fatalf("disabled logger wrote %v", files)
	}

	l.SetEnabled(true)
	l.Record(time.Now(), []dfair.Reading{{ID: "a", Value: dfair.Number(1)}})
	if l.Path() == "" {
		t.Fatal("no file after enabling")
	}
	l.SetEnabled(false)
	if l.Path() != "" || l.IsEnabled() {
		t.Fatal("file left open after disabling")
	}
}

func TestRotateOnLayoutChange(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir}, zerolog.Nop())
	defer l.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Record(ts, []dfair.Reading{{ID: "a", Value: dfair.Number(1)}})
	l.Record(ts.Add(time.Second), []dfair.Reading{{ID: "a", Value: dfair.Number(1)}, {ID: "b", Value: dfair.Number(2)}})

	files, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
}
