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

// Package replay recomputes measurement register values from event logs.
//
// Replay is a pure fold: the same ordered input always produces the same
// register value, and nothing is fetched or logged.
package replay

import (
	"bytes"
	"fmt"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/tcg"
)

// Error describes the event that stopped a replay.
type Error struct {
	// Register is the register under replay.
	Register int
	// Position is the zero-based position of the event in the replayed
	// sequence.
	Position int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("replaying register %d: event %d: %v", e.Register, e.Position, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GroupByRegister splits entries by register index. Within a register the
// log order is kept.
func GroupByRegister(entries []tcg.Entry) map[int][]tcg.Entry {
	groups := make(map[int][]tcg.Entry)
	for _, e := range entries {
		groups[e.MRIndex()] = append(groups[e.MRIndex()], e)
	}
	return groups
}

// ForRegister returns the entries extended into register idx, in log order.
func ForRegister(entries []tcg.Entry, idx int) []tcg.Entry {
	var out []tcg.Entry
	for _, e := range entries {
		if e.MRIndex() == idx {
			out = append(out, e)
		}
	}
	return out
}

// Boot replays the boot-time entries of one register, starting from the
// all-zero register value of alg.
func Boot(alg register.HashAlg, entries []tcg.Entry) (register.Value, error) {
	zero, err := register.Zero(alg)
	if err != nil {
		return register.Value{}, err
	}
	return BootFrom(zero, entries)
}

// startupLocalitySignature prefixes the data of the StartupLocality
// EV_NO_ACTION event, followed by one locality byte.
var startupLocalitySignature = []byte("StartupLocality\x00")

// StartupLocality returns the locality from which TPM2_Startup() was issued,
// as announced by a StartupLocality EV_NO_ACTION event. TXT platforms log it
// as the first PCR0 event.
func StartupLocality(entries []tcg.Entry) (locality byte, ok bool) {
	for _, e := range entries {
		if e.UntrustedType() != tcg.NoAction {
			continue
		}
		data := e.RawData()
		if len(data) == len(startupLocalitySignature)+1 && bytes.HasPrefix(data, startupLocalitySignature) {
			return data[len(data)-1], true
		}
	}
	return 0, false
}

// LocalityStart returns the initial PCR0 value for locality: all zero
// except for the last byte.
func LocalityStart(alg register.HashAlg, locality byte) (register.Value, error) {
	if !alg.Valid() {
		return register.Value{}, fmt.Errorf("%w: %v", register.ErrUnsupportedAlg, alg)
	}
	start := make([]byte, alg.Size())
	start[len(start)-1] = locality
	return register.NewValue(alg, start)
}

// BootFrom continues a boot-time replay from start.
//
// Only the digest matching the register algorithm is extended. An entry that
// has digests for other algorithms only is skipped. An entry with no digest at
// all fails the replay with tcg.ErrMissingDigest. EV_NO_ACTION entries are
// informational and never extended.
func BootFrom(start register.Value, entries []tcg.Entry) (register.Value, error) {
	acc := start
	if len(entries) == 0 {
		return acc, nil
	}
	mrIdx := entries[0].MRIndex()
	for i, e := range entries {
		if e.MRIndex() != mrIdx {
			return register.Value{}, &Error{Register: mrIdx, Position: i, Err: fmt.Errorf("entry belongs to register %d", e.MRIndex())}
		}
		if len(e.Digests()) == 0 {
			return register.Value{}, &Error{Register: mrIdx, Position: i, Err: tcg.ErrMissingDigest}
		}
		if e.UntrustedType() == tcg.NoAction {
			continue
		}
		d, ok := tcg.DigestFor(e, acc.Alg())
		if !ok {
			continue
		}
		next, err := acc.Extend(d.Data)
		if err != nil {
			return register.Value{}, &Error{Register: mrIdx, Position: i, Err: err}
		}
		acc = next
	}
	return acc, nil
}

// Runtime continues the chain of the runtime register from its boot-time
// value. Each line's third field is the hex digest of one event: the register
// becomes hash(current || digest), which is the hash of the concatenated hex
// strings once decoded.
func Runtime(base register.Value, runtimeRegister int, lines []runtimelog.Line) (register.Value, error) {
	acc := base
	for i, l := range lines {
		digest, err := l.Digest()
		if err != nil {
			return register.Value{}, &Error{Register: runtimeRegister, Position: i, Err: err}
		}
		next, err := acc.Extend(digest)
		if err != nil {
			return register.Value{}, &Error{Register: runtimeRegister, Position: i, Err: fmt.Errorf("runtime log line %d: %w", l.Number, err)}
		}
		acc = next
	}
	return acc, nil
}
