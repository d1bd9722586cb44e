package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	flushThreshold = 256
	flushInterval  = 2 * time.Second
)

// jsonlWriter persists events as JSON Lines under <dir>/YYYY/MM/DD/events.jsonl.
// Writes are buffered and flushed on a threshold, a ticker, or an explicit
// flush; a flush ends with fsync so flushed events are durable.
type jsonlWriter struct {
	dir string
	log zerolog.Logger

	mu      sync.Mutex
	buffer  []Event
	file    *os.File
	openDay string

	stop chan struct{}
	done chan struct{}
}

func newJSONLWriter(dir string, log zerolog.Logger) (*jsonlWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &jsonlWriter{
		dir:  dir,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

func (w *jsonlWriter) enqueue(evt Event) {
	w.mu.Lock()
	w.buffer = append(w.buffer, evt)
	full := len(w.buffer) >= flushThreshold
	w.mu.Unlock()

	if full {
		if err := w.flush(); err != nil {
			w.log.Error().Err(err).Msg("Event log flush failed")
		}
	}
}

func (w *jsonlWriter) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.flush(); err != nil {
				w.log.Error().Err(err).Msg("Event log flush failed")
			}
		}
	}
}

func (w *jsonlWriter) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) == 0 {
		return nil
	}

	for _, evt := range w.buffer {
		day := evt.Day()
		if w.file == nil || day != w.openDay {
			if err := w.rotateLocked(day); err != nil {
				return err
			}
		}
		if err := json.NewEncoder(w.file).Encode(evt); err != nil {
			return fmt.Errorf("failed to write event %d: %w", evt.ID, err)
		}
	}
	w.buffer = w.buffer[:0]

	return w.file.Sync()
}

func (w *jsonlWriter) rotateLocked(day string) error {
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return err
		}
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	path := DayPath(w.dir, day)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event file %s: %w", path, err)
	}

	w.file = f
	w.openDay = day
	return nil
}

func (w *jsonlWriter) close() error {
	close(w.stop)
	<-w.done

	if err := w.flush(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// DayPath maps a UTC date string (2006-01-02) to its JSONL file path.
// Backups use it to pick up a sealed day's raw journal.
func DayPath(dir, day string) string {
	return filepath.Join(dir, strings.ReplaceAll(day, "-", string(os.PathSeparator)), "events.jsonl")
}

// ReadDay loads one day's events straight from disk, for replay and
// snapshot regeneration after a restart. Returns nil when no file exists.
func ReadDay(dir, day string) ([]Event, error) {
	f, err := os.Open(DayPath(dir, day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, fmt.Errorf("corrupt event at %s line %d: %w", day, line, err)
		}
		if !evt.Type.Valid() {
			return nil, fmt.Errorf("unknown event type %q at %s line %d", evt.Type, day, line)
		}
		out = append(out, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// lastPersisted finds the highest event id already on disk and its
// timestamp, so a restarted log can resume its sequence.
func lastPersisted(dir string) (int64, time.Time, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	if len(files) == 0 {
		return 0, time.Time{}, nil
	}

	// Date-partitioned paths sort chronologically.
	sort.Strings(files)
	last := files[len(files)-1]

	f, err := os.Open(last)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer f.Close()

	var lastEvt *Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return 0, time.Time{}, fmt.Errorf("corrupt tail in %s: %w", last, err)
		}
		lastEvt = &evt
	}
	if err := scanner.Err(); err != nil {
		return 0, time.Time{}, err
	}
	if lastEvt == nil {
		return 0, time.Time{}, nil
	}
	return lastEvt.ID, lastEvt.Timestamp, nil
}
