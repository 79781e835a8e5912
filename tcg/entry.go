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
	"errors"
	"fmt"

	"github.com/google/go-ccverify/register"
)

var (
	// ErrMissingDigest is returned for an entry that carries no digest at
	// all. Such an entry cannot be replayed with any algorithm.
	ErrMissingDigest = errors.New("event carries no digest")
	// ErrDigestSize is returned when a digest's width does not match its
	// algorithm.
	ErrDigestSize = errors.New("digest size does not match its algorithm")
)

// Digest is one (algorithm, digest bytes) pair of an event.
type Digest struct {
	Alg  register.HashAlg
	Data []byte
}

// Validate checks that the digest width matches its algorithm.
func (d Digest) Validate() error {
	if !d.Alg.Valid() {
		return fmt.Errorf("%w: %v", register.ErrUnsupportedAlg, d.Alg)
	}
	if len(d.Data) != d.Alg.Size() {
		return fmt.Errorf("%w: %v digest of %d bytes, want %d", ErrDigestSize, d.Alg, len(d.Data), d.Alg.Size())
	}
	return nil
}

// Entry is a single record of a boot-time event log. It is implemented by
// StructuredEntry and LegacyEntry only.
//
// Entries are untrusted until they have been replayed against register values
// reported by a root of trust.
type Entry interface {
	// MRIndex is the measurement register the event was extended into.
	MRIndex() int
	// UntrustedType gives the unmeasured event type.
	UntrustedType() EventType
	// RawData gives the event data.
	RawData() []byte
	// Digests returns every digest of the event, in log order.
	Digests() []Digest

	isEntry()
}

// StructuredEntry is a crypto agile event carrying one digest per algorithm.
//
// https://trustedcomputinggroup.org/wp-content/uploads/EFI-Protocol-Specification-rev13-160330final.pdf#page=15
type StructuredEntry struct {
	Index      int
	Type       EventType
	DigestList []Digest
	Data       []byte
}

// MRIndex implements Entry.
func (e StructuredEntry) MRIndex() int { return e.Index }

// UntrustedType implements Entry.
func (e StructuredEntry) UntrustedType() EventType { return e.Type }

// RawData implements Entry.
func (e StructuredEntry) RawData() []byte { return e.Data }

// Digests implements Entry.
func (e StructuredEntry) Digests() []Digest { return e.DigestList }

func (StructuredEntry) isEntry() {}

// LegacyEntry is an event in the SHA-1 only log format, with a single digest.
type LegacyEntry struct {
	Index  int
	Type   EventType
	Digest Digest
	Data   []byte
}

// MRIndex implements Entry.
func (e LegacyEntry) MRIndex() int { return e.Index }

// UntrustedType implements Entry.
func (e LegacyEntry) UntrustedType() EventType { return e.Type }

// RawData implements Entry.
func (e LegacyEntry) RawData() []byte { return e.Data }

// Digests implements Entry.
func (e LegacyEntry) Digests() []Digest { return []Digest{e.Digest} }

func (LegacyEntry) isEntry() {}

// EventSize gives the size of the event data in bytes.
func EventSize(e Entry) int {
	return len(e.RawData())
}

// DigestFor returns the digest of e for alg. ok is false if e has no digest
// for alg.
func DigestFor(e Entry, alg register.HashAlg) (d Digest, ok bool) {
	for _, dgst := range e.Digests() {
		if dgst.Alg == alg {
			return dgst, true
		}
	}
	return Digest{}, false
}

// ValidateEntry checks that e has at least one digest and that every digest
// of a known algorithm has the width of that algorithm. Digests of algorithms
// this package cannot compute are carried but not checked.
func ValidateEntry(e Entry) error {
	digests := e.Digests()
	if len(digests) == 0 {
		return ErrMissingDigest
	}
	for _, d := range digests {
		if !d.Alg.Valid() {
			continue
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
