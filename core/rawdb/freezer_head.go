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
	"io"
	"os"
)

// openDataFileForAppend opens a data file for read/write without O_APPEND
// (whose Truncate interaction differs across platforms) and seeks to its
// current end, ready to be written to sequentially.
func openDataFileForAppend(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// openDataFileTruncated opens a data file guaranteed to be empty,
// truncating any pre-existing content. Used when rolling over to a file
// number that may have been left behind by an earlier, truncated run.
func openDataFileTruncated(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

// truncateDataFile resizes file to size bytes and repositions it at the
// new end, ready for further appends.
func truncateDataFile(file *os.File, size int64) error {
	if err := file.Truncate(size); err != nil {
		return err
	}
	_, err := file.Seek(0, io.SeekEnd)
	return err
}

// head owns the freezer's single writable data file: its handle, its
// file number, and how many bytes have been written to it so far. It is
// never reached through the handle cache -- only the head writer itself
// touches this file while it remains the head.
type head struct {
	file    *os.File
	filenum uint32
	bytes   uint32
}

// write appends payload to the head file and advances the byte counter.
// The caller must already hold the freezer's write lock.
func (h *head) write(payload []byte) error {
	if _, err := h.file.Write(payload); err != nil {
		return err
	}
	h.bytes += uint32(len(payload))
	return nil
}

// rollover syncs and closes the current head, drops any handle-cache
// entry for its file number (later reads reopen it read-only through the
// cache on demand), and opens a fresh, empty file under the next file
// number as the new head. The caller must hold the freezer's write lock.
func (f *Freezer) rollover() error {
	oldNum := f.head.filenum
	if err := f.head.file.Sync(); err != nil {
		return err
	}
	if err := f.head.file.Close(); err != nil {
		return err
	}
	f.cache.invalidate(oldNum)

	nextNum := oldNum + 1
	newFile, err := openDataFileTruncated(dataFileName(f.dir, nextNum))
	if err != nil {
		return err
	}
	f.head = head{file: newFile, filenum: nextNum, bytes: 0}
	return nil
}
