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
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func makeBytes(size int, b byte) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = b
	}
	return out
}

func newTestFreezer(t *testing.T, dir string, maxFileSize uint32, openFilesLimit int, compress bool) *Freezer {
	t.Helper()
	f, err := NewBuilder(dir).
		MaxFileSize(maxFileSize).
		OpenFilesLimit(openFilesLimit).
		EnableCompression(compress).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := f.Preopen(); err != nil {
		t.Fatalf("preopen: %v", err)
	}
	return f
}

func requireRetrieve(t *testing.T, f *Freezer, n uint64, want []byte) {
	t.Helper()
	got, err := f.Retrieve(n)
	if err != nil {
		t.Fatalf("retrieve(%d): %v", n, err)
	}
	if want == nil {
		if got != nil {
			t.Fatalf("retrieve(%d) = %x, want absent", n, got)
		}
		return
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("retrieve(%d) = %x, want %x", n, got, want)
	}
}

// TestBasic appends across several rollovers, interleaved with
// retrieval of the already-written prefix.
func TestBasic(t *testing.T) {
	dir := t.TempDir()
	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()

	for i := uint64(1); i < 100; i++ {
		if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
			t.Fatalf("append(%d): %v", i, err)
		}
	}
	for i := uint64(1); i < 50; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
	for i := uint64(100); i < 255; i++ {
		if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
			t.Fatalf("append(%d): %v", i, err)
		}
	}
	for i := uint64(1); i < 255; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
	requireRetrieve(t, f, 0, nil)
	requireRetrieve(t, f, 255, nil)
}

// TestReopen checks that closing and reopening a freezer yields
// identical retrieval results for every previously written record.
func TestReopen(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, true)
		defer f.Close()
		for i := uint64(1); i < 255; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()

	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()
	for i := uint64(1); i < 255; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
}

// TestDanglingHeadIndexShort truncates the index file by a few bytes
// (a partial trailing entry), simulating a crash between writing the
// data and finishing the index write, and checks repair drops the
// incomplete record.
func TestDanglingHeadIndexShort(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, true)
		defer f.Close()
		for i := uint64(1); i < 255; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()
	truncateFile(t, filepath.Join(dir, indexFileName), -4)

	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()
	requireRetrieve(t, f, 0xfd, makeBytes(15, 0xfd))
	requireRetrieve(t, f, 0xff, nil)
}

// TestDanglingHeadIndexMidEntry cuts the index mid-entry and checks the
// freezer both recovers to the last complete record and accepts further
// appends starting from the resulting N.
func TestDanglingHeadIndexMidEntry(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, true)
		defer f.Close()
		for i := uint64(1); i < 255; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()
	truncateFileTo(t, filepath.Join(dir, indexFileName), indexEntrySize*2+indexEntrySize/2)

	func() {
		f := newTestFreezer(t, dir, 50, 64, true)
		defer f.Close()
		requireRetrieve(t, f, 1, makeBytes(15, 1))
		requireRetrieve(t, f, 2, nil)
		for i := uint64(2); i < 255; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()

	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()
	for i := uint64(1); i < 255; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
}

// TestDanglingData cuts the head data file short of what the index
// claims, simulating a crash where the data write never reached disk
// before the index write did, and checks repair walks the index back
// to the last record the data file actually holds.
func TestDanglingData(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, false)
		defer f.Close()
		for i := uint64(1); i < 10; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()
	truncateFileTo(t, filepath.Join(dir, "data_000002.cdat"), 20)

	f := newTestFreezer(t, dir, 50, 64, false)
	defer f.Close()
	if got := f.Number(); got != 8 {
		t.Fatalf("number() = %d, want 8", got)
	}
	if f.head.bytes != 15 {
		t.Fatalf("head.bytes = %d, want 15", f.head.bytes)
	}
	for i := uint64(1); i < 8; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
}

// TestTruncate exercises explicit Truncate across a reopen, applied
// twice in succession (truncate(10) then truncate(1)), checking that
// each leaves exactly the kept prefix retrievable.
func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, false)
		defer f.Close()
		for i := uint64(1); i < 30; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
		for i := uint64(1); i < 30; i++ {
			requireRetrieve(t, f, i, makeBytes(15, byte(i)))
		}
		requireRetrieve(t, f, 30, nil)
	}()

	func() {
		f := newTestFreezer(t, dir, 50, 64, false)
		defer f.Close()
		if err := f.Truncate(10); err != nil {
			t.Fatalf("truncate(10): %v", err)
		}
		for i := uint64(1); i < 11; i++ {
			requireRetrieve(t, f, i, makeBytes(15, byte(i)))
		}
		requireRetrieve(t, f, 11, nil)
		if got := f.Number(); got != 11 {
			t.Fatalf("number() = %d, want 11", got)
		}
		if f.head.bytes != 15 {
			t.Fatalf("head.bytes = %d, want 15", f.head.bytes)
		}
	}()

	f := newTestFreezer(t, dir, 50, 64, false)
	defer f.Close()
	if err := f.Truncate(1); err != nil {
		t.Fatalf("truncate(1): %v", err)
	}
	requireRetrieve(t, f, 1, makeBytes(15, 1))
	requireRetrieve(t, f, 2, nil)
}

// TestOpenFilesLimitStress configures a max file size smaller than a
// single record, so every append forces a rollover; retrieval -- forward
// then reverse -- must still return every payload while the handle
// cache never exceeds its capacity.
func TestOpenFilesLimitStress(t *testing.T) {
	dir := t.TempDir()
	f := newTestFreezer(t, dir, 10, 2, false)
	defer f.Close()

	for i := uint64(1); i < 100; i++ {
		if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
			t.Fatalf("append(%d): %v", i, err)
		}
	}
	if got := f.Number(); got != 100 {
		t.Fatalf("number() = %d, want 100", got)
	}
	for i := uint64(1); i < 100; i++ {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
	}
	for i := uint64(99); i >= 1; i-- {
		requireRetrieve(t, f, i, makeBytes(15, byte(i)))
		if f.cache.len() > 2 {
			t.Fatalf("handle cache grew to %d entries, want <= 2", f.cache.len())
		}
	}
}

// TestTruncateThenAppendSucceeds exercises the "truncate monotone"
// property: after truncating, a subsequent append at the new N succeeds.
func TestTruncateThenAppendSucceeds(t *testing.T) {
	dir := t.TempDir()
	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()

	for i := uint64(1); i < 20; i++ {
		if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
			t.Fatalf("append(%d): %v", i, err)
		}
	}
	if err := f.Truncate(10); err != nil {
		t.Fatalf("truncate(10): %v", err)
	}
	if got := f.Number(); got != 11 {
		t.Fatalf("number() = %d, want 11", got)
	}
	if err := f.Append(11, makeBytes(15, 11)); err != nil {
		t.Fatalf("append(11) after truncate: %v", err)
	}
	requireRetrieve(t, f, 11, makeBytes(15, 11))
}

// TestAppendOutOfOrder checks the Append contract rejects a record
// number that does not equal Number().
func TestAppendOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	f := newTestFreezer(t, dir, 50, 64, true)
	defer f.Close()

	if err := f.Append(1, []byte("a")); err != nil {
		t.Fatalf("append(1): %v", err)
	}
	if err := f.Append(1, []byte("b")); err == nil {
		t.Fatalf("append(1) twice: want error, got nil")
	}
	if err := f.Append(5, []byte("c")); err == nil {
		t.Fatalf("append(5) with gap: want error, got nil")
	}
}

// TestRecoveryIdempotent checks running repair twice changes no byte on
// disk: after a crash-simulated reopen, a second reopen must see the
// same files untouched.
func TestRecoveryIdempotent(t *testing.T) {
	dir := t.TempDir()
	func() {
		f := newTestFreezer(t, dir, 50, 64, false)
		defer f.Close()
		for i := uint64(1); i < 40; i++ {
			if err := f.Append(i, makeBytes(15, byte(i))); err != nil {
				t.Fatalf("append(%d): %v", i, err)
			}
		}
	}()
	truncateFile(t, filepath.Join(dir, indexFileName), -2)

	func() {
		f := newTestFreezer(t, dir, 50, 64, false)
		f.Close()
	}()
	snapshot := dirSnapshot(t, dir)

	f := newTestFreezer(t, dir, 50, 64, false)
	f.Close()
	if got := dirSnapshot(t, dir); !bytesEqualMap(got, snapshot) {
		t.Fatalf("second recovery changed on-disk state")
	}
}

// TestMaxFileSizeRejected checks the Builder validates the 65535 cap
// from the 2-byte end-offset field.
func TestMaxFileSizeRejected(t *testing.T) {
	_, err := NewBuilder(t.TempDir()).MaxFileSize(70000).Build()
	if err == nil {
		t.Fatalf("build with max file size 70000: want error, got nil")
	}
}

func dirSnapshot(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		out[e.Name()] = b
	}
	return out
}

func bytesEqualMap(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(v, b[k]) {
			return false
		}
	}
	return true
}

// truncateFile shrinks the file at path by -delta bytes (delta negative).
func truncateFile(t *testing.T, path string, delta int64) {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	truncateFileTo(t, path, fi.Size()+delta)
}

// truncateFileTo shrinks (or, for a fresh file, sets) the file at path
// to exactly size bytes.
func truncateFileTo(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.Truncate(path, size); err != nil {
		t.Fatalf("truncate %s to %d: %v", path, size, err)
	}
}
