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

package tcg

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/go-ccverify/internal/binblob"
)

type specIDEvent struct {
	algs []specAlgSize
}

type specAlgSize struct {
	ID   uint16
	Size uint16
}

func (s *specIDEvent) digestSize(algID uint16) (uint16, bool) {
	for _, alg := range s.algs {
		if alg.ID == algID {
			return alg.Size, true
		}
	}
	return 0, false
}

// Expected values for various Spec ID Event fields.
// https://trustedcomputinggroup.org/wp-content/uploads/EFI-Protocol-Specification-rev13-160330final.pdf#page=19
var wantSignature = []byte("Spec ID Event03\x00")

const (
	wantMajor  = 2
	wantMinor  = 0
	wantErrata = 0
)

// Signature, platform class, minor, major, errata, uintn size, algorithm count.
const specIDEventHeaderSize = 16 + 4 + 1 + 1 + 1 + 1 + 4

// SpecIDEventData returns the data of a Spec ID event announcing algs. It is
// the first event of every crypto agile log.
func SpecIDEventData(algs map[uint16]uint16, order []uint16) []byte {
	var b bytes.Buffer
	b.Write(wantSignature)
	b.Write([]byte{0, 0, 0, 0}) // platform class
	b.WriteByte(wantMinor)
	b.WriteByte(wantMajor)
	b.WriteByte(wantErrata)
	b.WriteByte(2) // uintn size
	writeUint32(&b, uint32(len(order)))
	for _, id := range order {
		writeUint16(&b, id)
		writeUint16(&b, algs[id])
	}
	b.WriteByte(0) // vendor info size
	return b.Bytes()
}

// parseSpecIDEvent parses a TCG_EfiSpecIDEventStruct structure.
//
// https://trustedcomputinggroup.org/wp-content/uploads/EFI-Protocol-Specification-rev13-160330final.pdf#page=18
func parseSpecIDEvent(b []byte) (*specIDEvent, error) {
	buf := binblob.New(b)
	sig, pos, err := buf.Read(0, len(wantSignature))
	if err != nil {
		return nil, fmt.Errorf("reading event header: %w", err)
	}
	if !bytes.Equal(sig, wantSignature) {
		return nil, fmt.Errorf("invalid spec id signature: %x", sig)
	}
	// Skip the platform class.
	_, pos, err = buf.Uint32(pos)
	if err != nil {
		return nil, fmt.Errorf("reading platform class: %w", err)
	}
	minor, pos, err := buf.Uint8(pos)
	if err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	major, pos, err := buf.Uint8(pos)
	if err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}
	if major != wantMajor {
		return nil, fmt.Errorf("invalid spec major version, got %02x, wanted %02x", major, wantMajor)
	}
	if minor != wantMinor {
		return nil, fmt.Errorf("invalid spec minor version, got %02x, wanted %02x", minor, wantMinor)
	}
	// Errata and uintn size are not checked.
	_, pos, err = buf.Read(pos, 2)
	if err != nil {
		return nil, fmt.Errorf("reading errata: %w", err)
	}
	numAlgs, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, fmt.Errorf("reading algorithm count: %w", err)
	}
	if int64(numAlgs)*4 > int64(buf.Remaining(pos)) {
		return nil, fmt.Errorf("algorithm count %d: %w", numAlgs, binblob.ErrOutOfRange)
	}

	e := specIDEvent{}
	for i := 0; i < int(numAlgs); i++ {
		var alg specAlgSize
		if alg.ID, pos, err = buf.Uint16(pos); err != nil {
			return nil, fmt.Errorf("reading algorithm: %w", err)
		}
		if alg.Size, pos, err = buf.Uint16(pos); err != nil {
			return nil, fmt.Errorf("reading algorithm size: %w", err)
		}
		e.algs = append(e.algs, alg)
	}

	vendorInfoSize, pos, err := buf.Uint8(pos)
	if err != nil {
		return nil, fmt.Errorf("reading vendor info size: %w", err)
	}
	if buf.Remaining(pos) != int(vendorInfoSize) {
		return nil, fmt.Errorf("reading vendor info, expected %d remaining bytes, got %d", vendorInfoSize, buf.Remaining(pos))
	}
	if len(e.algs) == 0 {
		return nil, errors.New("spec id event lists no algorithms")
	}
	return &e, nil
}

func writeUint16(b *bytes.Buffer, v uint16) {
	b.Write([]byte{byte(v), byte(v >> 8)})
}

func writeUint32(b *bytes.Buffer, v uint32) {
	b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}
