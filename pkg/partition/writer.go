package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"streamscraper/pkg/errors"
	"streamscraper/pkg/models"
)

const (
	DefaultPrefix     = "streaming_data--"
	DefaultExtension  = ".json"
	DefaultDateFormat = "2006-01-02"

	// ArchiveSuffix is appended to partitions compressed by pkg/archive
	ArchiveSuffix = ".zst"
)

// Options configures a Writer
type Options struct {
	Dir        string
	Prefix     string
	Extension  string
	DateFormat string
	Location   *time.Location
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Extension == "" {
		o.Extension = DefaultExtension
	}
	if o.DateFormat == "" {
		o.DateFormat = DefaultDateFormat
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Info describes one partition file on disk
type Info struct {
	Key        string
	Path       string
	Size       int64
	ModTime    time.Time
	Compressed bool
}

// Writer appends records to the current day's partition. A process should
// hold exactly one Writer per output directory.
type Writer struct {
	opts Options

	mu      sync.Mutex
	file    *os.File
	key     string
	written int64
}

// NewWriter creates the output directory if needed and returns a Writer
// with no partition open yet
func NewWriter(opts Options) (*Writer, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Writer{opts: opts}, nil
}

// KeyFor returns the partition key for the given instant
func (w *Writer) KeyFor(now time.Time) string {
	return now.In(w.opts.Location).Format(w.opts.DateFormat)
}

// PathFor returns the file path of the partition with the given key
func (w *Writer) PathFor(key string) string {
	return filepath.Join(w.opts.Dir, w.opts.Prefix+key+w.opts.Extension)
}

// Dir returns the output directory
func (w *Writer) Dir() string {
	return w.opts.Dir
}

// CurrentKey returns the key of the open partition, empty if none is open
func (w *Writer) CurrentKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

// Written returns the number of records appended to the open partition by
// this writer
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Append writes record as one line to the partition for now.
//
// When the key differs from the open partition the new file is opened first
// and a RolloverEvent is returned together with the result of the write. If
// the new partition cannot be opened the writer is left untouched and no
// event is returned, so the transition is reported by the next successful
// open. A failed write returns a write error and the record is not persisted.
func (w *Writer) Append(record []byte, now time.Time) (*models.RolloverEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var event *models.RolloverEvent
	key := w.KeyFor(now)
	if w.file == nil || key != w.key {
		previous := w.key
		if err := w.rollover(key); err != nil {
			return nil, err
		}
		// Reopening after Close on the same key is not a transition.
		if key != previous {
			event = &models.RolloverEvent{PreviousKey: previous, NewKey: key}
		}
	}

	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return event, &errors.Error{
			Type:          errors.ErrorTypeWrite,
			Message:       fmt.Sprintf("append to partition %s", w.key),
			Unrecoverable: errors.IsUnrecoverable(err),
			Err:           err,
		}
	}
	w.written++
	return event, nil
}

func (w *Writer) rollover(key string) error {
	path := w.PathFor(key)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &errors.Error{
			Type:          errors.ErrorTypeWrite,
			Message:       fmt.Sprintf("open partition %s", path),
			Unrecoverable: errors.IsUnrecoverable(err),
			Err:           err,
		}
	}

	if w.file != nil {
		// The superseded partition is complete; a close error cannot lose
		// records that were already written.
		_ = w.file.Close()
	}

	w.file = file
	if key != w.key {
		w.written = 0
	}
	w.key = key
	return nil
}

// Close closes the open partition, if any
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Partitions lists the partition files in the writer's directory
func (w *Writer) Partitions() ([]Info, error) {
	return Scan(w.opts)
}

// Scan lists partition files matching opts, oldest key first
func Scan(opts Options) ([]Info, error) {
	opts = opts.withDefaults()

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), opts.Prefix) {
			continue
		}

		name := entry.Name()
		compressed := strings.HasSuffix(name, opts.Extension+ArchiveSuffix)
		if compressed {
			name = strings.TrimSuffix(name, ArchiveSuffix)
		}
		if !strings.HasSuffix(name, opts.Extension) {
			continue
		}

		key := strings.TrimSuffix(strings.TrimPrefix(name, opts.Prefix), opts.Extension)
		if _, err := time.ParseInLocation(opts.DateFormat, key, opts.Location); err != nil {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Key:        key,
			Path:       filepath.Join(opts.Dir, entry.Name()),
			Size:       fi.Size(),
			ModTime:    fi.ModTime(),
			Compressed: compressed,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key == infos[j].Key {
			return !infos[i].Compressed && infos[j].Compressed
		}
		return infos[i].Key < infos[j].Key
	})
	return infos, nil
}
