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

// Package tcg exposes the TCG PC Client Platform Firmware Profile event log
// format: event types, the Entry sum type and a bounds-checked parser for
// SHA-1 and crypto agile logs.
package tcg

import (
	"errors"
	"fmt"

	"github.com/google/go-ccverify/internal/binblob"
	"github.com/google/go-ccverify/register"
)

// ParseOpts gives options for parsing the event log.
type ParseOpts struct {
	// AllowPadding stops parsing at the first all-ones register index
	// instead of treating it as an event. CCELs have trailing padding.
	AllowPadding bool
}

// EntryError describes an event that could not be parsed.
type EntryError struct {
	// Sequence is the position of the event in the log.
	Sequence int
	// Offset is the byte offset at which the event starts.
	Offset int
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("event %d at offset %d: %v", e.Sequence, e.Offset, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// EventLog is a parsed measurement log. This contains unverified data
// representing boot events that must be replayed against register values to
// determine authenticity.
type EventLog struct {
	// Algs holds the set of algorithms that the event log uses.
	Algs []register.HashAlg
	// Entries holds the events in log order. The Spec ID event is not
	// included since it intentionally doesn't extend any register.
	Entries []Entry

	specID *specIDEvent
}

// ParseEventLog parses an unverified measurement log.
//
// Parsing stops at the first malformed event. The returned log then holds
// every event before it and err is an *EntryError.
func ParseEventLog(measurementLog []byte, opts ParseOpts) (*EventLog, error) {
	buf := binblob.New(measurementLog)
	el := &EventLog{}
	if buf.Len() == 0 {
		return el, nil
	}

	first, pos, err := parseLegacyEntry(buf, 0)
	if err != nil {
		return el, &EntryError{Sequence: 0, Offset: 0, Err: err}
	}
	parseFn := parseLegacyEntry
	if first.UntrustedType() == NoAction && len(first.RawData()) >= specIDEventHeaderSize {
		specID, err := parseSpecIDEvent(first.RawData())
		if err != nil {
			return el, fmt.Errorf("failed to parse spec ID event: %w", err)
		}
		for _, alg := range specID.algs {
			if ha := register.HashAlg(alg.ID); ha.Valid() {
				el.Algs = append(el.Algs, ha)
			}
		}
		if len(el.Algs) == 0 {
			return el, errors.New("measurement log didn't use sha1, sha256, sha384 or sha512 digests")
		}
		// Switch to parsing crypto agile events.
		el.specID = specID
		parseFn = func(buf binblob.Buffer, pos int) (Entry, int, error) {
			return parseStructuredEntry(buf, pos, specID)
		}
	} else {
		el.Algs = []register.HashAlg{register.HashSHA1}
		el.Entries = append(el.Entries, first)
	}

	sequence := 1
	for pos < buf.Len() {
		if opts.AllowPadding && isPadding(buf, pos) {
			break
		}
		e, next, err := parseFn(buf, pos)
		if err != nil {
			return el, &EntryError{Sequence: sequence, Offset: pos, Err: err}
		}
		el.Entries = append(el.Entries, e)
		pos = next
		sequence++
	}
	return el, nil
}

// Crypto agile logs mark the end of the used area with an all-ones index.
func isPadding(buf binblob.Buffer, pos int) bool {
	idx, _, err := buf.Uint32(pos)
	return err == nil && idx == 0xFFFFFFFF
}

// SHA1 event log format. See "5.1 SHA1 Event Log Entry Format"
// https://trustedcomputinggroup.org/wp-content/uploads/EFI-Protocol-Specification-rev13-160330final.pdf#page=15
//
//	uint32 PCRIndex
//	uint32 Type
//	[20]byte Digest
//	uint32 EventSize
//	[EventSize]byte Event
func parseLegacyEntry(buf binblob.Buffer, pos int) (Entry, int, error) {
	index, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading register index: %w", err)
	}
	typ, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading event type: %w", err)
	}
	digest, pos, err := buf.Read(pos, register.HashSHA1.Size())
	if err != nil {
		return nil, pos, fmt.Errorf("reading digest: %w", err)
	}
	data, pos, err := readEventData(buf, pos)
	if err != nil {
		return nil, pos, err
	}
	return LegacyEntry{
		Index:  int(index),
		Type:   EventType(typ),
		Digest: Digest{Alg: register.HashSHA1, Data: digest},
		Data:   data,
	}, pos, nil
}

// Crypto Agile event log format. See "5.2 Crypto Agile Log Entry Format"
// https://trustedcomputinggroup.org/wp-content/uploads/EFI-Protocol-Specification-rev13-160330final.pdf#page=15
//
//	uint32 PCRIndex
//	uint32 Type
//	uint32 DigestCount
//	DigestCount * (uint16 AlgID, [size of AlgID]byte Digest)
//	uint32 EventSize
//	[EventSize]byte Event
func parseStructuredEntry(buf binblob.Buffer, pos int, specID *specIDEvent) (Entry, int, error) {
	index, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading register index: %w", err)
	}
	typ, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading event type: %w", err)
	}
	numDigests, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading digest count: %w", err)
	}
	if numDigests == 0 {
		return nil, pos, ErrMissingDigest
	}
	// Every digest takes at least its two byte algorithm id.
	if int64(numDigests)*2 > int64(buf.Remaining(pos)) {
		return nil, pos, fmt.Errorf("digest count %d: %w", numDigests, binblob.ErrOutOfRange)
	}

	digests := make([]Digest, 0, numDigests)
	for i := 0; i < int(numDigests); i++ {
		var algID uint16
		algID, pos, err = buf.Uint16(pos)
		if err != nil {
			return nil, pos, fmt.Errorf("reading digest %d algorithm: %w", i, err)
		}
		size, ok := specID.digestSize(algID)
		if !ok {
			return nil, pos, fmt.Errorf("unknown algorithm ID %x", algID)
		}
		var data []byte
		data, pos, err = buf.Read(pos, int(size))
		if err != nil {
			return nil, pos, fmt.Errorf("reading digest %d: %w", i, err)
		}
		d := Digest{Alg: register.HashAlg(algID), Data: data}
		if d.Alg.Valid() {
			if err := d.Validate(); err != nil {
				return nil, pos, err
			}
		}
		digests = append(digests, d)
	}

	data, pos, err := readEventData(buf, pos)
	if err != nil {
		return nil, pos, err
	}
	return StructuredEntry{
		Index:      int(index),
		Type:       EventType(typ),
		DigestList: digests,
		Data:       data,
	}, pos, nil
}

func readEventData(buf binblob.Buffer, pos int) ([]byte, int, error) {
	size, pos, err := buf.Uint32(pos)
	if err != nil {
		return nil, pos, fmt.Errorf("reading event size: %w", err)
	}
	if int64(size) > int64(buf.Remaining(pos)) {
		return nil, pos, fmt.Errorf("event data size (%d bytes) is greater than remaining measurement log (%d bytes): %w", size, buf.Remaining(pos), binblob.ErrOutOfRange)
	}
	data, pos, err := buf.Read(pos, int(size))
	if err != nil {
		return nil, pos, fmt.Errorf("reading event data: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, pos, nil
}
