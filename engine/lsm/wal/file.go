package wal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xmh1011/go-leveldb/pkg/log"
)

const (
	defaultWALFileMode   = 0666
	defaultWALFileSuffix = "wal"
)

// WAL owns one log file. Each memtable has its own WAL written by a single
// goroutine, so no locking happens here; a shared log would need caller
// serialization anyway (the writer is not thread-safe).
type WAL struct {
	*Writer
	file *os.File
	path string
}

// Create opens a fresh WAL file for the memtable with the given id.
func Create(id uint64, dirPath string) (*WAL, error) {
	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		log.Errorf("[WAL] Failed to create WAL directory %s: %s", dirPath, err.Error())
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	path := FilePath(id, dirPath)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultWALFileMode)
	if err != nil {
		log.Errorf("[WAL] Failed to open WAL file: %s", err.Error())
		return nil, err
	}
	log.Debugf("[WAL] Created new WAL file: %s", path)
	return &WAL{Writer: NewWriter(file), file: file, path: path}, nil
}

// FilePath returns the WAL path for the memtable with id.
func FilePath(id uint64, dirPath string) string {
	return filepath.Join(dirPath, fmt.Sprintf("%d.%s", id, defaultWALFileSuffix))
}

// Path returns the file path backing this WAL.
func (w *WAL) Path() string { return w.path }

// Sync flushes the file to disk.
func (w *WAL) Sync() error {
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	log.Debugf("[WAL] Closing WAL file: %s", w.path)
	err := w.file.Close()
	w.file = nil
	return err
}

// Remove closes and deletes the WAL file, typically after its memtable has
// been flushed to an sstable.
func (w *WAL) Remove() error {
	_ = w.Close()
	log.Debugf("[WAL] Deleting WAL file: %s", w.path)
	return os.Remove(w.path)
}

// LogReporter logs dropped bytes during recovery and remembers the first
// error for callers that treat corruption as fatal.
type LogReporter struct {
	File string
	Err  error
}

// Corruption implements Reporter.
func (r *LogReporter) Corruption(bytes int, reason error) {
	log.Warnf("[WAL] %s: dropping %d bytes: %s", r.File, bytes, reason.Error())
	if r.Err == nil {
		r.Err = reason
	}
}

// Replay reads every logical record of the WAL file at path and hands it to
// the callback. Corruption is logged and skipped; the replay keeps going so a
// partly damaged log still restores everything recoverable.
func Replay(path string, callback func(record []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("[WAL] Open wal file failed: %s", err.Error())
		return fmt.Errorf("open wal file failed: %w", err)
	}
	defer file.Close()

	reporter := &LogReporter{File: path}
	reader := NewReader(file, reporter, true, 0)
	for {
		record, ok := reader.ReadRecord()
		if !ok {
			break
		}
		if err := callback(record); err != nil {
			return err
		}
	}
	return nil
}
