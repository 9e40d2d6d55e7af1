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

import "errors"

var (
	// ErrClosed is returned by Append, Retrieve, Truncate and Sync on a
	// freezer that has already been closed, either explicitly or after a
	// prior fatal I/O error.
	ErrClosed = errors.New("freezer: closed")

	// ErrOutOfOrder is returned by Append when the supplied record number
	// does not equal the freezer's current item count.
	ErrOutOfOrder = errors.New("freezer: out-of-order insertion")

	// ErrCorruptIndex is returned by Preopen when recovery leaves an index
	// it cannot use: a length that is not a whole number of entries, or no
	// sentinel entry. Recovery does not check that data files below the
	// head exist; a missing one surfaces only when Retrieve reads from it.
	ErrCorruptIndex = errors.New("freezer: corrupt index")

	// ErrCorrupt is returned by Retrieve when the index claims a byte
	// range that the data file does not actually contain, after recovery
	// has already run. It indicates on-disk state changed underneath the
	// freezer.
	ErrCorrupt = errors.New("freezer: corrupt data file")

	// ErrDecompressFailed is returned by Retrieve when compression is
	// enabled and the stored bytes do not decode as a valid snappy block.
	ErrDecompressFailed = errors.New("freezer: decompression failed")

	// errOutOfBounds is returned internally when a record number falls
	// outside [1, N) of the current freezer; Retrieve translates it into
	// the "absent" (nil, nil) contract rather than propagating it.
	errOutOfBounds = errors.New("freezer: out of bounds")
)
