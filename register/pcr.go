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

// Package register contains measurement register values, the extend
// operation and the register banks reported by roots of trust.
package register

import (
	"fmt"
)

// PCRBank is a bank of index-addressed registers that all correspond to the
// same hash algorithm.
type PCRBank struct {
	Alg  HashAlg
	PCRs []PCR
}

// HashAlg returns the algorithm shared by every register in the bank.
func (b PCRBank) HashAlg() (HashAlg, error) {
	if !b.Alg.Valid() {
		return 0, fmt.Errorf("received a bad PCR bank of type %v: %w", b.Alg, ErrUnsupportedAlg)
	}
	var invalidPCRs []int
	for _, pcr := range b.PCRs {
		if pcr.DgstAlg() != b.Alg {
			invalidPCRs = append(invalidPCRs, pcr.Idx())
		}
	}
	if len(invalidPCRs) != 0 {
		return 0, fmt.Errorf("found an invalid hash algorithm in PCRs %v for bank of algorithm type %v", invalidPCRs, b.Alg)
	}
	return b.Alg, nil
}

// MRs returns a slice of MR from the PCR implementation.
func (b PCRBank) MRs() []MR {
	mrs := make([]MR, len(b.PCRs))
	for i, v := range b.PCRs {
		mrs[i] = v
	}
	return mrs
}

// PCR encapsulates the value of a register at a point in time.
type PCR struct {
	Index     int
	Digest    []byte
	DigestAlg HashAlg
}

// Idx gives the PCR index.
func (p PCR) Idx() int {
	return p.Index
}

// Dgst gives the PCR digest.
func (p PCR) Dgst() []byte {
	return p.Digest
}

// DgstAlg gives the PCR digest algorithm.
func (p PCR) DgstAlg() HashAlg {
	return p.DigestAlg
}
