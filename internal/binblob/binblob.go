// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package binblob provides bounds-checked, position-based reads over raw
// event log bytes.
package binblob

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a read would go past the end of a Buffer.
var ErrOutOfRange = errors.New("read out of range")

// Buffer is an immutable byte sequence. It holds no cursor: every read takes
// a position and returns the position following the bytes read.
type Buffer struct {
	data []byte
}

// New copies b into a new Buffer.
func New(b []byte) Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return Buffer{data: data}
}

// Len returns the size of the buffer in bytes.
func (b Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of bytes after pos.
func (b Buffer) Remaining(pos int) int {
	if pos < 0 || pos > len(b.data) {
		return 0
	}
	return len(b.data) - pos
}

// Read returns count bytes starting at pos and the position after them.
// A zero count returns no data and leaves pos unchanged. The returned slice
// is a copy and may be retained by the caller.
func (b Buffer) Read(pos, count int) ([]byte, int, error) {
	if count == 0 {
		return nil, pos, nil
	}
	if pos < 0 || count < 0 || count > b.Remaining(pos) {
		return nil, pos, fmt.Errorf("%w: %d bytes at offset %d of %d", ErrOutOfRange, count, pos, len(b.data))
	}
	out := make([]byte, count)
	copy(out, b.data[pos:pos+count])
	return out, pos + count, nil
}

// Uint16 reads a little-endian uint16 at pos.
func (b Buffer) Uint16(pos int) (uint16, int, error) {
	raw, next, err := b.Read(pos, 2)
	if err != nil {
		return 0, pos, err
	}
	return binary.LittleEndian.Uint16(raw), next, nil
}

// Uint32 reads a little-endian uint32 at pos.
func (b Buffer) Uint32(pos int) (uint32, int, error) {
	raw, next, err := b.Read(pos, 4)
	if err != nil {
		return 0, pos, err
	}
	return binary.LittleEndian.Uint32(raw), next, nil
}

// Uint8 reads a single byte at pos.
func (b Buffer) Uint8(pos int) (uint8, int, error) {
	raw, next, err := b.Read(pos, 1)
	if err != nil {
		return 0, pos, err
	}
	return raw[0], next, nil
}
