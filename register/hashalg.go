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
	"crypto"
	"errors"
	"fmt"
	"strings"

	// Ensure hashes are available.
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/google/go-tpm/legacy/tpm2"
)

// ErrUnsupportedAlg is returned for hash algorithms that cannot back a
// measurement register.
var ErrUnsupportedAlg = errors.New("unsupported hash algorithm")

// HashAlg identifies a hashing algorithm by its TCG Algorithm Registry id.
type HashAlg uint16

// Valid hash algorithms.
var (
	HashSHA1   = HashAlg(tpm2.AlgSHA1)
	HashSHA256 = HashAlg(tpm2.AlgSHA256)
	HashSHA384 = HashAlg(tpm2.AlgSHA384)
	HashSHA512 = HashAlg(tpm2.AlgSHA512)
)

// ParseHashAlg returns the HashAlg for a name such as "sha384". Case is
// ignored, so String output parses back.
func ParseHashAlg(name string) (HashAlg, error) {
	switch strings.ToLower(name) {
	case "sha1":
		return HashSHA1, nil
	case "sha256":
		return HashSHA256, nil
	case "sha384":
		return HashSHA384, nil
	case "sha512":
		return HashSHA512, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlg, name)
}

// CryptoHash turns the hash algo into a crypto.Hash. It returns 0 for
// unknown algorithms.
func (a HashAlg) CryptoHash() crypto.Hash {
	h, err := a.GoTPMAlg().Hash()
	if err != nil {
		return 0
	}
	return h
}

// Size returns the digest width in bytes, or 0 for unknown algorithms.
func (a HashAlg) Size() int {
	h := a.CryptoHash()
	if h == 0 || !h.Available() {
		return 0
	}
	return h.Size()
}

// Valid reports whether the algorithm can back a measurement register.
func (a HashAlg) Valid() bool {
	return a.Size() != 0
}

// GoTPMAlg returns the go-tpm definition of this algorithm.
func (a HashAlg) GoTPMAlg() tpm2.Algorithm {
	return tpm2.Algorithm(a)
}

// String returns a human-friendly representation of the hash algorithm.
func (a HashAlg) String() string {
	switch a {
	case HashSHA1:
		return "SHA1"
	case HashSHA256:
		return "SHA256"
	case HashSHA384:
		return "SHA384"
	case HashSHA512:
		return "SHA512"
	}
	return fmt.Sprintf("HashAlg<%d>", int(a))
}
