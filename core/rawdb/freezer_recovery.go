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

package rawdb

import (
	"fmt"
	"os"

	"github.com/coldrec/freezer/internal/common"
)

// repair cross-checks the index file against the head data file and
// truncates whichever side has dangling bytes the other doesn't know
// about, restoring a consistent state after an unclean shutdown. A
// dangling head means the data file outgrew what the index recorded
// (the data write landed but the index write didn't); a dangling index
// means the reverse, and entries are walked back, possibly across a
// file-number boundary, until one's end fits within what the data file
// actually holds. It is idempotent: running it twice in a row changes
// no on-disk byte.
func (f *Freezer) repair() error {
	stat, err := f.index.Stat()
	if err != nil {
		return err
	}
	// Step 1: align the index to a multiple of indexEntrySize, dropping
	// any dangling partial-entry tail.
	size := stat.Size()
	if overflow := size % indexEntrySize; overflow != 0 {
		size -= overflow
		if err := truncateDataFile(f.index, size); err != nil {
			return err
		}
	}
	// Step 2: re-establish the sentinel entry if the index is empty.
	if size == 0 {
		if err := f.writeIndexEntry(indexEntry{filenum: 0, offset: 0}); err != nil {
			return err
		}
		size = indexEntrySize
	}
	// Step 3: read the last entry; it names the head file.
	last, err := f.readIndexEntryAt(size - indexEntrySize)
	if err != nil {
		return err
	}
	// Step 4: open the head file. The open creates a missing file empty,
	// so a lost head is handled by the dangling-index walk in step 5; the
	// loop below only runs when the open itself reports a not-exist error.
	headFile, err := f.openHeadCandidate(last.filenum)
	for err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if size <= indexEntrySize {
			// Even the sentinel's file is missing: nothing to recover to.
			return fmt.Errorf("%w: data file %d for sentinel is missing", ErrCorruptIndex, last.filenum)
		}
		size -= indexEntrySize
		if err := truncateDataFile(f.index, size); err != nil {
			return err
		}
		last, err = f.readIndexEntryAt(size - indexEntrySize)
		if err != nil {
			return err
		}
		headFile, err = f.openHeadCandidate(last.filenum)
	}

	stat, err = headFile.Stat()
	if err != nil {
		headFile.Close()
		return err
	}
	dataLen := stat.Size()

	// Step 5: reconcile head length with the index.
	if dataLen > int64(last.offset) {
		// Dangling head: the data file outgrew what the index knows.
		f.logger.Warn("Truncating dangling head", "indexed", common.StorageSize(last.offset), "stored", common.StorageSize(dataLen))
		if err := truncateDataFile(headFile, int64(last.offset)); err != nil {
			headFile.Close()
			return err
		}
		dataLen = int64(last.offset)
	} else if dataLen < int64(last.offset) {
		// Dangling index: the index references bytes the data write
		// never reached disk for. Walk entries back until one's end
		// fits within what the data file actually has. The walk may
		// slip back across a file boundary (the previous file becomes
		// the new head candidate), in which case re-open and re-stat.
		f.logger.Warn("Truncating dangling index", "indexed", common.StorageSize(last.offset), "stored", common.StorageSize(dataLen))
		for int64(last.offset) > dataLen && size > indexEntrySize {
			size -= indexEntrySize
			if err := truncateDataFile(f.index, size); err != nil {
				headFile.Close()
				return err
			}
			prevFilenum := last.filenum
			last, err = f.readIndexEntryAt(size - indexEntrySize)
			if err != nil {
				headFile.Close()
				return err
			}
			if last.filenum != prevFilenum {
				headFile.Close()
				headFile, err = f.openHeadCandidate(last.filenum)
				if err != nil {
					return err
				}
				stat, err = headFile.Stat()
				if err != nil {
					headFile.Close()
					return err
				}
				dataLen = stat.Size()
			}
		}
		if err := truncateDataFile(headFile, int64(last.offset)); err != nil {
			headFile.Close()
			return err
		}
		dataLen = int64(last.offset)
	}

	if err := f.index.Sync(); err != nil {
		headFile.Close()
		return err
	}
	if err := headFile.Sync(); err != nil {
		headFile.Close()
		return err
	}

	f.head = head{file: headFile, filenum: last.filenum, bytes: uint32(dataLen)}
	items, err := f.indexLen()
	if err != nil {
		return err
	}
	f.items = items
	f.logger.Debug("Freezer table opened", "items", f.items, "size", common.StorageSize(dataLen))
	return nil
}

// openHeadCandidate opens the data file for filenum read/write, for use
// as the new head during recovery.
func (f *Freezer) openHeadCandidate(filenum uint32) (*os.File, error) {
	return openDataFileForAppend(dataFileName(f.dir, filenum))
}

// readIndexEntryAt reads and decodes the index entry at the given byte
// offset within the index file.
func (f *Freezer) readIndexEntryAt(offset int64) (indexEntry, error) {
	var buf [indexEntrySize]byte
	if _, err := f.index.ReadAt(buf[:], offset); err != nil {
		return indexEntry{}, err
	}
	var e indexEntry
	e.unmarshalBinary(buf[:])
	return e, nil
}

// writeIndexEntry appends one encoded index entry to the end of the
// index file.
func (f *Freezer) writeIndexEntry(e indexEntry) error {
	var buf [indexEntrySize]byte
	e.marshalBinary(buf[:])
	_, err := f.index.Write(buf[:])
	return err
}

// indexLen returns N, the total number of index entries including the
// sentinel -- equivalently, the next record number Append will accept.
func (f *Freezer) indexLen() (uint64, error) {
	stat, err := f.index.Stat()
	if err != nil {
		return 0, err
	}
	if stat.Size()%indexEntrySize != 0 {
		return 0, fmt.Errorf("%w: index length %d is not a multiple of %d", ErrCorruptIndex, stat.Size(), indexEntrySize)
	}
	entries := stat.Size() / indexEntrySize
	if entries == 0 {
		return 0, fmt.Errorf("%w: missing sentinel entry", ErrCorruptIndex)
	}
	return uint64(entries), nil
}
