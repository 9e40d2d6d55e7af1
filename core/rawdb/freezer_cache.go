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
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// handleCache is a bounded LRU of read-only data-file handles, keyed by
// file number. The head file is never stored here -- it is owned
// directly by the freezer's head writer, so retrieval from the head goes
// through a separate path. Capacity is fixed at construction time;
// get never blocks on I/O while holding the cache's own bookkeeping
// lock -- the open syscall happens outside the critical section, with a
// double-check on insert so two concurrent misses for the same file
// number never leak a descriptor.
type handleCache struct {
	dir string

	mu  sync.Mutex
	lru *lru.Cache
}

func newHandleCache(dir string, capacity int) (*handleCache, error) {
	c := &handleCache{dir: dir}
	l, err := lru.NewWithEvict(capacity, c.onEvicted)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvicted closes a handle pushed out of the cache by capacity pressure.
// Invoked by the underlying lru.Cache with its own lock held, so it must
// not re-enter the cache.
func (c *handleCache) onEvicted(_, value interface{}) {
	value.(*os.File).Close()
}

// dataFileName returns the on-disk name for a data file of the given
// file number under dir: data_NNNNNN.cdat, zero-padded to 6 digits.
func dataFileName(dir string, filenum uint32) string {
	return filepath.Join(dir, fmt.Sprintf("data_%06d.cdat", filenum))
}

// get returns a read-only handle for the given file number, opening and
// inserting it on a cache miss, evicting the least-recently-used entry
// if the cache is already at capacity.
func (c *handleCache) get(filenum uint32) (*os.File, error) {
	if v, ok := c.lru.Get(filenum); ok {
		return v.(*os.File), nil
	}
	f, err := os.OpenFile(dataFileName(c.dir, filenum), os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.lru.Peek(filenum); ok {
		// Someone else opened and inserted this file while we were
		// blocked on the open syscall above; keep theirs, drop ours.
		f.Close()
		return v.(*os.File), nil
	}
	c.lru.Add(filenum, f)
	return f, nil
}

// invalidate drops the cache entry for filenum, if any, and closes its
// handle. Used on rollover (the prior head becomes immutable and must
// be reopened read-only on next access) and on truncate (removed files
// must not be served from a stale handle).
func (c *handleCache) invalidate(filenum uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(filenum)
}

// len reports the number of handles currently held open by the cache.
func (c *handleCache) len() int {
	return c.lru.Len()
}

// close closes every handle currently cached.
func (c *handleCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
