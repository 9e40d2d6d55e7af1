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

import "encoding/binary"

// indexEntrySize is the fixed width, in bytes, of one on-disk index
// entry: a 4-byte big-endian file number followed by a 2-byte big-endian
// end-offset. The 2-byte offset is what bounds maxFileSize at 65535.
const indexEntrySize = 6

// indexEntry locates the end of one record's payload: which data file it
// lives in, and the byte offset within that file where it ends. Entry i
// combined with entry i-1 gives the full [start, end) range of record i.
type indexEntry struct {
	filenum uint32 // stored as uint32 big-endian (4 bytes)
	offset  uint16 // stored as uint16 big-endian (2 bytes)
}

// unmarshalBinary decodes b (which must be at least indexEntrySize long)
// into the entry.
func (e *indexEntry) unmarshalBinary(b []byte) {
	e.filenum = binary.BigEndian.Uint32(b[:4])
	e.offset = binary.BigEndian.Uint16(b[4:6])
}

// marshalBinary encodes the entry into the first indexEntrySize bytes of
// b, which must have at least that much capacity.
func (e *indexEntry) marshalBinary(b []byte) {
	binary.BigEndian.PutUint32(b[:4], e.filenum)
	binary.BigEndian.PutUint16(b[4:6], e.offset)
}

// bounds returns the start offset, end offset and file number of the
// payload located by a pair of adjacent index entries, where e is the
// entry for the preceding record (or the sentinel) and end is the entry
// for the record being located. If the record's file differs from the
// preceding entry's file, the record starts at offset 0 of its own file
// -- no record ever straddles a data-file boundary.
func (e *indexEntry) bounds(end *indexEntry) (start, stop uint16, filenum uint32) {
	if e.filenum != end.filenum {
		return 0, end.offset, end.filenum
	}
	return e.offset, end.offset, end.filenum
}
