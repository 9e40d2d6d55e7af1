// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package rawdb implements the freezer, an append-only, crash-recoverable
// record store that maps a strictly increasing record number to an
// opaque byte payload. It is the cold-storage tier beneath a mutable
// key-value database: once a record is frozen here, it is read-heavy,
// rarely rewritten, and cheap to retrieve by number.
package rawdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/coldrec/freezer/internal/glog"
	"github.com/coldrec/freezer/internal/gmetrics"
)

// maxOffset is the largest end-offset a 2-byte index field can encode,
// which in turn bounds maxFileSize.
const maxOffset = 1<<16 - 1

const indexFileName = "index.cidx"

// defaultMaxFileSize is used when the builder isn't given one.
const defaultMaxFileSize = 32 * 1024

// defaultOpenFilesLimit is used when the builder isn't given one.
const defaultOpenFilesLimit = 64

// Builder configures a Freezer before it is built and preopened.
// Unset options fall back to sane defaults; Build validates them once.
type Builder struct {
	root           string
	maxFileSize    uint32
	openFilesLimit int
	enableCompress bool
	compressionSet bool
	disableMetrics bool
}

// NewBuilder starts a Builder rooted at the given directory, which is
// created by Preopen if it does not already exist.
func NewBuilder(root string) *Builder {
	return &Builder{
		root:           root,
		maxFileSize:    defaultMaxFileSize,
		openFilesLimit: defaultOpenFilesLimit,
	}
}

// MaxFileSize caps how large a single data file is allowed to grow
// before the freezer rolls over to the next one. Must be <= 65535, the
// largest value the 2-byte end-offset field can represent. A single
// record larger than the cap is still written, alone, into a fresh file.
func (b *Builder) MaxFileSize(n uint32) *Builder {
	b.maxFileSize = n
	return b
}

// OpenFilesLimit caps how many non-head data file handles the freezer's
// handle cache may hold open at once.
func (b *Builder) OpenFilesLimit(n int) *Builder {
	b.openFilesLimit = n
	return b
}

// EnableCompression toggles per-record snappy compression. Changing it
// on an existing freezer directory does not retroactively compress or
// decompress already-written records.
func (b *Builder) EnableCompression(enabled bool) *Builder {
	b.enableCompress = enabled
	b.compressionSet = true
	return b
}

// DisableMetrics turns off the freezer's read/write meters and size
// gauge, replacing them with no-op counters. Metrics() still returns
// usable values (always zero) but the atomic increments on every
// Append/Retrieve are skipped.
func (b *Builder) DisableMetrics() *Builder {
	b.disableMetrics = true
	return b
}

// Build validates the configuration and returns an unopened Freezer.
// Call Preopen before using it.
func (b *Builder) Build() (*Freezer, error) {
	if b.maxFileSize == 0 || b.maxFileSize > maxOffset {
		return nil, fmt.Errorf("freezer: max file size %d must be in (0, %d]", b.maxFileSize, maxOffset)
	}
	if b.openFilesLimit <= 0 {
		return nil, fmt.Errorf("freezer: open files limit must be positive, got %d", b.openFilesLimit)
	}
	compression := b.enableCompress
	if !b.compressionSet {
		compression = true // compression is on unless a caller opts out
	}
	f := &Freezer{
		dir:            b.root,
		maxFileSize:    b.maxFileSize,
		openFilesLimit: b.openFilesLimit,
		compression:    compression,
		logger:         glog.New("module", "freezer", "dir", b.root),
	}
	if b.disableMetrics {
		f.readMeter, f.writeMeter, f.sizeGauge = gmetrics.NilMeter{}, gmetrics.NilMeter{}, gmetrics.NilGauge{}
	} else {
		f.readMeter, f.writeMeter, f.sizeGauge = gmetrics.NewMeter(), gmetrics.NewMeter(), gmetrics.NewGauge()
	}
	return f, nil
}

// Freezer is a single append-only record stream sharded across
// size-bounded data files, with a fixed-width index file locating every
// record by number.
type Freezer struct {
	dir            string
	maxFileSize    uint32
	openFilesLimit int
	compression    bool

	items uint64 // N: the next record number to be assigned

	index *os.File
	head  head
	cache *handleCache

	logger glog.Logger
	// readMeter, writeMeter and sizeGauge are in-process instrumentation;
	// nothing reports them anywhere, they just give Metrics() something
	// to return to a caller that wants to poll. DisableMetrics swaps
	// these for no-op implementations instead of leaving them nil.
	readMeter  gmetrics.Meter
	writeMeter gmetrics.Meter
	sizeGauge  gmetrics.Gauge

	lock   sync.RWMutex // guards head/index mutation; readers take RLock
	closed atomic.Bool
	opened atomic.Bool
}

// Preopen creates the root directory if necessary, opens (or creates)
// the index and head data files, runs recovery, and populates Number().
// Must be called exactly once before Append/Retrieve/Truncate/Sync.
func (f *Freezer) Preopen() error {
	if f.opened.Load() {
		return fmt.Errorf("freezer: already opened")
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	index, err := openDataFileForAppend(filepath.Join(f.dir, indexFileName))
	if err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	f.index = index

	cache, err := newHandleCache(f.dir, f.openFilesLimit)
	if err != nil {
		f.index.Close()
		return fmt.Errorf("freezer: %w", err)
	}
	f.cache = cache

	if err := f.repair(); err != nil {
		f.index.Close()
		return err
	}
	f.opened.Store(true)
	return nil
}

// Number returns N, the next record number that Append will accept.
func (f *Freezer) Number() uint64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.items
}

// Size returns an estimate of the total on-disk size of the freezer:
// every finalized data file at its capacity, plus the head's actual
// length, plus the index file's length.
func (f *Freezer) Size() (uint64, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.sizeLocked()
}

func (f *Freezer) sizeLocked() (uint64, error) {
	stat, err := f.index.Stat()
	if err != nil {
		return 0, err
	}
	finalized := uint64(f.maxFileSize) * uint64(f.head.filenum)
	return finalized + uint64(f.head.bytes) + uint64(stat.Size()), nil
}

// Metrics exposes the freezer's ambient read/write rate meters and its
// running size gauge, for a caller that wants to poll disk usage.
func (f *Freezer) Metrics() (read, write gmetrics.Meter, size gmetrics.Gauge) {
	return f.readMeter, f.writeMeter, f.sizeGauge
}

// Append stores payload as record number n, which must equal Number().
// It is not synced to disk by default; call Sync to force durability.
func (f *Freezer) Append(n uint64, payload []byte) error {
	if f.closed.Load() {
		return ErrClosed
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	if n != f.items {
		return fmt.Errorf("%w: want %d, have %d", ErrOutOfOrder, f.items, n)
	}
	encoded := f.encode(payload)

	if uint64(f.head.bytes)+uint64(len(encoded)) > uint64(f.maxFileSize) {
		if err := f.rollover(); err != nil {
			f.closed.Store(true)
			return fmt.Errorf("freezer: %w", err)
		}
	}
	oldSize, _ := f.sizeLocked()

	if err := f.head.write(encoded); err != nil {
		f.closed.Store(true)
		return fmt.Errorf("freezer: %w", err)
	}
	if err := f.writeIndexEntry(indexEntry{filenum: f.head.filenum, offset: uint16(f.head.bytes)}); err != nil {
		f.closed.Store(true)
		return fmt.Errorf("freezer: %w", err)
	}
	f.items++
	f.writeMeter.Mark(int64(len(encoded) + indexEntrySize))

	if newSize, err := f.sizeLocked(); err == nil {
		f.sizeGauge.Inc(int64(newSize) - int64(oldSize))
	}
	return nil
}

// checkBounds reports errOutOfBounds if n names no record: either the
// reserved 0, or a number not yet assigned.
func (f *Freezer) checkBounds(n uint64) error {
	if n == 0 || n >= f.items {
		return errOutOfBounds
	}
	return nil
}

// Retrieve returns the payload stored at record number n, or (nil, nil)
// if n is 0 or n is not yet assigned.
func (f *Freezer) Retrieve(n uint64) ([]byte, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	f.lock.RLock()
	defer f.lock.RUnlock()

	if errors.Is(f.checkBounds(n), errOutOfBounds) {
		return nil, nil
	}
	startEntry, err := f.readIndexEntryAt(int64(n-1) * indexEntrySize)
	if err != nil {
		return nil, fmt.Errorf("freezer: %w", err)
	}
	endEntry, err := f.readIndexEntryAt(int64(n) * indexEntrySize)
	if err != nil {
		return nil, fmt.Errorf("freezer: %w", err)
	}
	start, end, filenum := startEntry.bounds(&endEntry)
	size := int(end - start)

	raw := make([]byte, size)
	if filenum == f.head.filenum {
		if _, err := f.head.file.ReadAt(raw, int64(start)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	} else {
		handle, err := f.cache.get(filenum)
		if err != nil {
			return nil, fmt.Errorf("freezer: %w", err)
		}
		if _, err := handle.ReadAt(raw, int64(start)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	f.readMeter.Mark(int64(size + 2*indexEntrySize))

	return f.decode(raw)
}

// Truncate discards every record above items, keeping 1..items. It is a
// no-op if items >= Number()-1, i.e. there is nothing to discard.
func (f *Freezer) Truncate(items uint64) error {
	if f.closed.Load() {
		return ErrClosed
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	if items+1 >= f.items {
		return nil
	}
	keep, err := f.readIndexEntryAt(int64(items) * indexEntrySize)
	if err != nil {
		return fmt.Errorf("freezer: %w", err)
	}

	if keep.filenum != f.head.filenum {
		if err := f.head.file.Close(); err != nil {
			return fmt.Errorf("freezer: %w", err)
		}
		if err := f.removeFilesAfter(keep.filenum); err != nil {
			return fmt.Errorf("freezer: %w", err)
		}
		newHead, err := openDataFileForAppend(dataFileName(f.dir, keep.filenum))
		if err != nil {
			return fmt.Errorf("freezer: %w", err)
		}
		f.cache.invalidate(keep.filenum)
		f.head = head{file: newHead, filenum: keep.filenum}
	}
	if err := truncateDataFile(f.head.file, int64(keep.offset)); err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	f.head.bytes = uint32(keep.offset)

	if err := truncateDataFile(f.index, int64(items+1)*indexEntrySize); err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	f.items = items + 1
	return nil
}

// removeFilesAfter deletes every data file numbered above keep and
// evicts any cached handle for it. The caller must hold the write lock.
func (f *Freezer) removeFilesAfter(keep uint32) error {
	for num := keep + 1; num <= f.head.filenum; num++ {
		f.cache.invalidate(num)
		if err := os.Remove(dataFileName(f.dir, num)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Sync flushes and fsyncs the head data file, then the index file, in
// that order, so the index never references bytes that are not yet
// durable in the data files.
func (f *Freezer) Sync() error {
	if f.closed.Load() {
		return ErrClosed
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.head.file.Sync(); err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	if err := f.index.Sync(); err != nil {
		return fmt.Errorf("freezer: %w", err)
	}
	return nil
}

// Close releases every file descriptor the freezer holds: the index,
// the head, and every handle cached for random retrieval. Idempotent.
func (f *Freezer) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.lock.Lock()
	defer f.lock.Unlock()

	var errs []error
	if f.head.file != nil {
		if err := f.head.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.cache != nil {
		f.cache.close()
	}
	if f.index != nil {
		if err := f.index.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("freezer: %v", errs)
	}
	return nil
}
