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

// Package testutil builds raw event logs for tests.
package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/tcg"
)

// Event describes one event to serialize.
type Event struct {
	Index   int
	Type    tcg.EventType
	Digests []tcg.Digest
	Data    []byte
}

// CryptoAgileLog serializes events in the crypto agile format, preceded by a
// Spec ID event announcing algs.
func CryptoAgileLog(algs []register.HashAlg, events []Event) []byte {
	sizes := make(map[uint16]uint16, len(algs))
	order := make([]uint16, 0, len(algs))
	for _, alg := range algs {
		sizes[uint16(alg)] = uint16(alg.Size())
		order = append(order, uint16(alg))
	}
	out := &bytes.Buffer{}
	writeLegacy(out, Event{
		Index:   0,
		Type:    tcg.NoAction,
		Digests: []tcg.Digest{{Alg: register.HashSHA1, Data: make([]byte, 20)}},
		Data:    tcg.SpecIDEventData(sizes, order),
	})
	for _, e := range events {
		// Serialize header (PCR index, event type, number of digests)
		binary.Write(out, binary.LittleEndian, uint32(e.Index))
		binary.Write(out, binary.LittleEndian, uint32(e.Type))
		binary.Write(out, binary.LittleEndian, uint32(len(e.Digests)))
		for _, d := range e.Digests {
			binary.Write(out, binary.LittleEndian, uint16(d.Alg))
			out.Write(d.Data)
		}
		// Serialize event data
		binary.Write(out, binary.LittleEndian, uint32(len(e.Data)))
		out.Write(e.Data)
	}
	return out.Bytes()
}

// LegacyLog serializes events in the SHA-1 only format. Only the first digest
// of every event is written.
func LegacyLog(events []Event) []byte {
	out := &bytes.Buffer{}
	for _, e := range events {
		writeLegacy(out, e)
	}
	return out.Bytes()
}

func writeLegacy(out *bytes.Buffer, e Event) {
	binary.Write(out, binary.LittleEndian, uint32(e.Index))
	binary.Write(out, binary.LittleEndian, uint32(e.Type))
	digest := make([]byte, 20)
	if len(e.Digests) > 0 {
		copy(digest, e.Digests[0].Data)
	}
	out.Write(digest)
	binary.Write(out, binary.LittleEndian, uint32(len(e.Data)))
	out.Write(e.Data)
}

// Digest returns a digest of alg filled with b.
func Digest(alg register.HashAlg, b byte) tcg.Digest {
	return tcg.Digest{Alg: alg, Data: bytes.Repeat([]byte{b}, alg.Size())}
}

// Padding returns n bytes of CCEL trailing padding.
func Padding(n int) []byte {
	return bytes.Repeat([]byte{0xff}, n)
}

// CCELTable returns a minimal CCEL ACPI table for ccType (2 is TDX) with a
// log area of logAreaLen bytes.
func CCELTable(ccType uint8, logAreaLen uint32) []byte {
	table := make([]byte, 56)
	copy(table, "CCEL")
	binary.LittleEndian.PutUint32(table[4:], uint32(len(table)))
	table[36] = ccType
	binary.LittleEndian.PutUint32(table[40:], logAreaLen)
	return table
}
