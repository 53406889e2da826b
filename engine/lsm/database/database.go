// Package database ties the storage core together: writes go through a WAL
// into the mutable memtable, full memtables rotate out and flush to
// sstables, and reads consult memtables then tables newest-first.
//
// It is intentionally thin. Compaction, versioning, and snapshots belong to
// a higher layer; this one only guarantees durability of acknowledged writes
// and a consistent newest-wins view.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xmh1011/go-leveldb/engine/lsm/batch"
	"github.com/xmh1011/go-leveldb/engine/lsm/cache"
	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/memtable"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable/filter"
	"github.com/xmh1011/go-leveldb/engine/lsm/wal"
	"github.com/xmh1011/go-leveldb/pkg/config"
	"github.com/xmh1011/go-leveldb/pkg/log"
	"github.com/xmh1011/go-leveldb/pkg/status"
)

const sstFileSuffix = "sst"

// Database is safe for concurrent use: writes serialize on the mutex,
// reads share it.
type Database struct {
	name string

	mu        sync.RWMutex
	seq       keys.SequenceNumber
	nextFile  uint64
	mem       *memtable.MemTable
	memWAL    *wal.WAL
	imms      []*memtable.MemTable // frozen, newest last; flushed synchronously today
	tables    []*tableHandle       // newest last
	closed    bool
	cmp       *keys.InternalKeyComparator
	tableOpts sstable.Options

	maxMemTableSize int
	syncWrites      bool
	verifyChecksums bool
}

type tableHandle struct {
	num   uint64
	path  string
	file  *os.File
	table *sstable.Table
}

// Open creates or reopens the database rooted at name, replaying any WAL
// files left by a previous run.
func Open(name string) (*Database, error) {
	log.Infof("[Database] Opening database: %s", name)
	cfg := config.Conf.LSM

	walPath := filepath.Join(name, "wal")
	sstPath := filepath.Join(name, "sst")
	for _, dir := range []string{walPath, sstPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Errorf("[Database] Failed to create directory %s: %s", dir, err.Error())
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	cmp := keys.NewInternalKeyComparator(keys.BytewiseComparator{})
	opts := sstable.Options{
		Comparator:           cmp,
		BlockSize:            cfg.BlockSize,
		BlockRestartInterval: cfg.BlockRestartInterval,
		Compression:          parseCompression(cfg.Compression),
		ParanoidChecks:       cfg.ParanoidChecks,
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = config.DefaultBlockSize
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = config.DefaultBlockRestartInterval
	}
	if cfg.BloomBitsPerKey > 0 {
		// The table stores internal keys; filter on the user key so lookup
		// probes with a different sequence tag still match.
		opts.FilterPolicy = filter.NewInternalPolicy(filter.NewBloomPolicy(cfg.BloomBitsPerKey))
	}
	if cfg.BlockCacheSize > 0 {
		opts.BlockCache = cache.New(cfg.BlockCacheSize)
	}

	maxMemTableSize := cfg.MaxMemTableSize
	if maxMemTableSize <= 0 {
		maxMemTableSize = config.DefaultMaxMemTableSize
	}

	d := &Database{
		name:            name,
		nextFile:        1,
		cmp:             cmp,
		tableOpts:       opts,
		maxMemTableSize: maxMemTableSize,
		syncWrites:      cfg.SyncWrites,
		verifyChecksums: cfg.VerifyChecksums,
	}
	if err := d.recover(); err != nil {
		return nil, err
	}
	if err := d.rotateMemTable(); err != nil {
		return nil, err
	}
	log.Info("[Database] Recovery completed successfully")
	return d, nil
}

func parseCompression(name string) sstable.CompressionType {
	switch strings.ToLower(name) {
	case "snappy":
		return sstable.SnappyCompression
	case "zstd":
		return sstable.ZstdCompression
	default:
		return sstable.NoCompression
	}
}

// Name returns the database root path.
func (d *Database) Name() string { return d.name }

func (d *Database) walDir() string { return filepath.Join(d.name, "wal") }
func (d *Database) sstDir() string { return filepath.Join(d.name, "sst") }

func (d *Database) sstPath(num uint64) string {
	return filepath.Join(d.sstDir(), fmt.Sprintf("%d.%s", num, sstFileSuffix))
}

// recover replays leftover WAL files in creation order and reopens existing
// sstables. Each recovered memtable is flushed immediately so recovery ends
// with an empty log.
func (d *Database) recover() error {
	log.Info("[Database] Starting recovery...")

	if err := d.openTables(); err != nil {
		return err
	}

	entries, err := os.ReadDir(d.walDir())
	if err != nil {
		return fmt.Errorf("read wal directory: %w", err)
	}
	var ids []uint64
	for _, e := range entries {
		numStr, ok := strings.CutSuffix(e.Name(), ".wal")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			log.Warnf("[Database] Ignoring unrecognized WAL file: %s", e.Name())
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		path := wal.FilePath(id, d.walDir())
		log.Infof("[Database] Replaying WAL file: %s", path)
		mem := memtable.New(d.cmp)
		b := batch.New()
		err := wal.Replay(path, func(record []byte) error {
			if err := b.SetContents(record); err != nil {
				log.Warnf("[Database] Skipping malformed WAL record: %s", err.Error())
				return nil
			}
			if err := b.InsertInto(mem); err != nil {
				return err
			}
			if last := b.Sequence() + keys.SequenceNumber(b.Count()) - 1; last > d.seq {
				d.seq = last
			}
			return nil
		})
		if err != nil {
			mem.Unref()
			return err
		}
		if mem.ApproximateMemoryUsage() > 0 {
			if err := d.flushMemTable(mem); err != nil {
				mem.Unref()
				return err
			}
		}
		mem.Unref()
		if err := os.Remove(path); err != nil {
			log.Warnf("[Database] Failed to remove replayed WAL %s: %s", path, err.Error())
		}
		if id >= d.nextFile {
			d.nextFile = id + 1
		}
	}
	return nil
}

// openTables scans the sstable directory and opens every table, oldest
// first so the newest ends up last in the lookup order.
func (d *Database) openTables() error {
	entries, err := os.ReadDir(d.sstDir())
	if err != nil {
		return fmt.Errorf("read sstable directory: %w", err)
	}
	var nums []uint64
	for _, e := range entries {
		numStr, ok := strings.CutSuffix(e.Name(), "."+sstFileSuffix)
		if !ok {
			continue
		}
		num, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			log.Warnf("[Database] Ignoring unrecognized sstable file: %s", e.Name())
			continue
		}
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for _, num := range nums {
		h, err := d.openTable(num)
		if err != nil {
			log.Errorf("[Database] Open sstable %d error: %s", num, err.Error())
			return err
		}
		d.tables = append(d.tables, h)
		if num >= d.nextFile {
			d.nextFile = num + 1
		}
	}
	return nil
}

func (d *Database) openTable(num uint64) (*tableHandle, error) {
	path := d.sstPath(num)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	table, err := sstable.Open(d.tableOpts, file, uint64(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open sstable %s: %w", path, err)
	}
	return &tableHandle{num: num, path: path, file: file, table: table}, nil
}

// rotateMemTable freezes the current memtable (if any) and installs a fresh
// one with its own WAL. Caller holds the write lock or is in Open.
func (d *Database) rotateMemTable() error {
	id := d.nextFile
	d.nextFile++
	w, err := wal.Create(id, d.walDir())
	if err != nil {
		return err
	}
	if d.mem != nil {
		d.imms = append(d.imms, d.mem)
	}
	d.mem = memtable.New(d.cmp)
	d.memWAL = w
	return nil
}

// Put stores value under key.
func (d *Database) Put(key string, value []byte) error {
	b := batch.New()
	b.Put([]byte(key), value)
	return d.Write(b)
}

// Delete removes key. Missing keys are not an error.
func (d *Database) Delete(key string) error {
	b := batch.New()
	b.Delete([]byte(key))
	return d.Write(b)
}

// Write applies a batch atomically: one WAL record, then the memtable.
func (d *Database) Write(b *batch.Batch) error {
	if b.Count() == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("database is closed")
	}

	b.SetSequence(d.seq + 1)
	if err := d.memWAL.AddRecord(b.Contents()); err != nil {
		log.Errorf("[Database] Write WAL error: %s", err.Error())
		return fmt.Errorf("write wal: %w", err)
	}
	if d.syncWrites {
		if err := d.memWAL.Sync(); err != nil {
			return fmt.Errorf("sync wal: %w", err)
		}
	}
	if err := b.InsertInto(d.mem); err != nil {
		return err
	}
	d.seq += keys.SequenceNumber(b.Count())

	if d.mem.ApproximateMemoryUsage() >= uint64(d.maxMemTableSize) {
		log.Info("[Database] MemTable full, flushing to SSTable")
		return d.flushLocked()
	}
	return nil
}

// Get returns the newest value for key, or status.ErrNotFound.
func (d *Database) Get(key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("database is closed")
	}

	lk := keys.NewLookupKey([]byte(key), d.seq)

	if value, found, err := d.mem.Get(lk); found {
		return append([]byte(nil), value...), err
	}
	for i := len(d.imms) - 1; i >= 0; i-- {
		if value, found, err := d.imms[i].Get(lk); found {
			return append([]byte(nil), value...), err
		}
	}
	for i := len(d.tables) - 1; i >= 0; i-- {
		value, deleted, found, err := d.tableGet(d.tables[i], lk)
		if err != nil {
			return nil, err
		}
		if found {
			if deleted {
				return nil, status.ErrNotFound
			}
			return value, nil
		}
	}
	return nil, status.ErrNotFound
}

// tableGet probes one sstable. found reports a conclusive answer; deleted
// distinguishes a tombstone from a stored value.
func (d *Database) tableGet(h *tableHandle, lk *keys.LookupKey) (value []byte, deleted, found bool, err error) {
	ro := sstable.ReadOptions{VerifyChecksums: d.verifyChecksums, FillCache: true}
	gerr := h.table.InternalGet(ro, lk.InternalKey(), func(rkey, rvalue []byte) {
		userKey, _, t, ok := keys.ParseInternalKey(rkey)
		if !ok || d.cmp.User.Compare(userKey, lk.UserKey()) != 0 {
			return
		}
		found = true
		if t == keys.TypeDeletion {
			deleted = true
			return
		}
		value = append([]byte(nil), rvalue...)
	})
	if gerr != nil {
		return nil, false, false, gerr
	}
	return value, deleted, found, nil
}

// flushLocked persists the current memtable and starts a fresh one. Caller
// holds the write lock.
func (d *Database) flushLocked() error {
	if d.mem.ApproximateMemoryUsage() == 0 {
		return nil
	}
	oldMem := d.mem
	oldWAL := d.memWAL
	if err := d.rotateMemTable(); err != nil {
		return err
	}
	// The frozen memtable is the last element of imms.
	if err := d.flushMemTable(oldMem); err != nil {
		return err
	}
	d.imms = d.imms[:len(d.imms)-1]
	oldMem.Unref()
	if err := oldWAL.Remove(); err != nil {
		log.Warnf("[Database] Remove WAL error: %s", err.Error())
	}
	return nil
}

// flushMemTable writes mem's contents as a new sstable and registers it.
func (d *Database) flushMemTable(mem *memtable.MemTable) error {
	num := d.nextFile
	d.nextFile++
	path := d.sstPath(num)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create sstable %s: %w", path, err)
	}

	builder := sstable.NewBuilder(d.tableOpts, file)
	it := mem.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		builder.Add(it.Key(), it.Value())
	}
	if err := builder.Finish(); err != nil {
		file.Close()
		os.Remove(path)
		log.Errorf("[Database] Create new sstable error: %s", err.Error())
		return fmt.Errorf("build sstable %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync sstable %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close sstable %s: %w", path, err)
	}

	h, err := d.openTable(num)
	if err != nil {
		return err
	}
	d.tables = append(d.tables, h)
	log.Infof("[Database] Flushed memtable to %s (%d entries)", path, builder.NumEntries())
	return nil
}

// ForceFlush persists the current memtable regardless of its size.
func (d *Database) ForceFlush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("database is closed")
	}
	log.Info("[Database] Force flushing MemTable to SSTable")
	return d.flushLocked()
}

// TablePaths returns the current sstable files, oldest first.
func (d *Database) TablePaths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, len(d.tables))
	for i, h := range d.tables {
		paths[i] = h.path
	}
	return paths
}

// Close flushes the memtable and releases all files.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	log.Info("[Database] Closing database...")
	if err := d.flushLocked(); err != nil {
		return err
	}
	d.closed = true
	if err := d.memWAL.Remove(); err != nil {
		log.Warnf("[Database] Remove WAL error: %s", err.Error())
	}
	d.mem.Unref()
	d.mem = nil
	for _, h := range d.tables {
		if err := h.file.Close(); err != nil {
			log.Warnf("[Database] Close sstable %s error: %s", h.path, err.Error())
		}
	}
	return nil
}
