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

package register

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDigestWidth is returned when a digest does not have the width of the
// register algorithm.
var ErrDigestWidth = errors.New("digest width does not match register width")

// Value is the accumulated state of one measurement register. Its digest
// always has exactly the width of its algorithm.
type Value struct {
	alg    HashAlg
	digest []byte
}

// Zero returns the all-zero register value for alg.
func Zero(alg HashAlg) (Value, error) {
	if !alg.Valid() {
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedAlg, alg)
	}
	return Value{alg: alg, digest: make([]byte, alg.Size())}, nil
}

// NewValue returns a register value holding a copy of digest.
func NewValue(alg HashAlg, digest []byte) (Value, error) {
	if !alg.Valid() {
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedAlg, alg)
	}
	if len(digest) != alg.Size() {
		return Value{}, fmt.Errorf("%w: got %d bytes, %v needs %d", ErrDigestWidth, len(digest), alg, alg.Size())
	}
	return Value{alg: alg, digest: bytes.Clone(digest)}, nil
}

// ParseHex returns the register value for a hex-encoded digest.
func ParseHex(alg HashAlg, s string) (Value, error) {
	digest, err := hex.DecodeString(s)
	if err != nil {
		return Value{}, fmt.Errorf("decoding register value: %w", err)
	}
	return NewValue(alg, digest)
}

// Extend folds digest into the register: hash(current || digest). The
// digest must have the register width.
func (v Value) Extend(digest []byte) (Value, error) {
	if !v.alg.Valid() {
		return Value{}, fmt.Errorf("extending uninitialized register: %w", ErrUnsupportedAlg)
	}
	if len(digest) != v.alg.Size() {
		return Value{}, fmt.Errorf("%w: got %d bytes, %v needs %d", ErrDigestWidth, len(digest), v.alg, v.alg.Size())
	}
	hasher := v.alg.CryptoHash().New()
	hasher.Write(v.digest)
	hasher.Write(digest)
	return Value{alg: v.alg, digest: hasher.Sum(nil)}, nil
}

// Alg returns the register algorithm.
func (v Value) Alg() HashAlg {
	return v.alg
}

// Bytes returns a copy of the register digest.
func (v Value) Bytes() []byte {
	return bytes.Clone(v.digest)
}

// Hex returns the register digest as lowercase hex.
func (v Value) Hex() string {
	return hex.EncodeToString(v.digest)
}

// IsZero reports whether v is the zero Value (no algorithm).
func (v Value) IsZero() bool {
	return v.alg == 0
}

// Equal reports whether both values use the same algorithm and hold the same
// bytes.
func (v Value) Equal(o Value) bool {
	return v.alg == o.alg && bytes.Equal(v.digest, o.digest)
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return fmt.Sprintf("%v:%s", v.alg, v.Hex())
}
