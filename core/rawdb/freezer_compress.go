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

	"github.com/golang/snappy"
)

// encode compresses payload with snappy's block format when compression
// is enabled. The block format is self-framing -- it carries its own
// varint-encoded uncompressed length -- so the decompressor on the other
// side consumes exactly the bytes that were written, independent of the
// index's end-offset bookkeeping.
func (f *Freezer) encode(payload []byte) []byte {
	if !f.compression {
		return payload
	}
	return snappy.Encode(nil, payload)
}

// decode reverses encode. If compression is disabled, raw is returned
// unchanged; otherwise it must be a valid snappy block.
func (f *Freezer) decode(raw []byte) ([]byte, error) {
	if !f.compression {
		return raw, nil
	}
	out, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}
