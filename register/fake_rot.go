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
	"context"
	"fmt"
	"sync"
)

// FakeROT is a software root of trust holding banks of registers. It is
// meant for tests that need live register values computed independently of
// event log replay.
type FakeROT struct {
	mu    sync.Mutex
	banks map[HashAlg]map[int][]byte
}

// NewFakeROT creates a FakeROT with numIdxs zeroed registers per algorithm.
func NewFakeROT(algs []HashAlg, numIdxs int) (*FakeROT, error) {
	if len(algs) == 0 || numIdxs <= 0 {
		return nil, fmt.Errorf("algs (%v) or numIdxs (%v) was empty", algs, numIdxs)
	}
	banks := make(map[HashAlg]map[int][]byte)
	for _, alg := range algs {
		if !alg.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlg, alg)
		}
		bank := make(map[int][]byte)
		for idx := 0; idx < numIdxs; idx++ {
			bank[idx] = make([]byte, alg.Size())
		}
		banks[alg] = bank
	}
	return &FakeROT{banks: banks}, nil
}

// Extend extends digest into register idx of the alg bank.
func (f *FakeROT) Extend(alg HashAlg, idx int, digest []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.valueLocked(alg, idx)
	if err != nil {
		return fmt.Errorf("failed to extend index %v in bank %v: %w", idx, alg, err)
	}
	next, err := cur.Extend(digest)
	if err != nil {
		return fmt.Errorf("failed to extend index %v in bank %v: %w", idx, alg, err)
	}
	f.banks[alg][idx] = next.Bytes()
	return nil
}

// Set overwrites register idx of the alg bank.
func (f *FakeROT) Set(alg HashAlg, idx int, digest []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := NewValue(alg, digest)
	if err != nil {
		return err
	}
	bank, ok := f.banks[alg]
	if !ok {
		return fmt.Errorf("bank %v not present in fake root of trust", alg)
	}
	bank[idx] = v.Bytes()
	return nil
}

// Measurement returns the current value of register idx in the alg bank.
func (f *FakeROT) Measurement(_ context.Context, idx int, alg HashAlg) (Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valueLocked(alg, idx)
}

// ReadMRs returns the selected registers of the alg bank.
func (f *FakeROT) ReadMRs(alg HashAlg, mrSelection []int) (PCRBank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pcrs := make([]PCR, 0, len(mrSelection))
	for _, idx := range mrSelection {
		v, err := f.valueLocked(alg, idx)
		if err != nil {
			return PCRBank{}, err
		}
		pcrs = append(pcrs, PCR{Index: idx, Digest: v.Bytes(), DigestAlg: alg})
	}
	return PCRBank{Alg: alg, PCRs: pcrs}, nil
}

func (f *FakeROT) valueLocked(alg HashAlg, idx int) (Value, error) {
	bank, ok := f.banks[alg]
	if !ok {
		return Value{}, fmt.Errorf("bank %v not present in fake root of trust", alg)
	}
	dgst, ok := bank[idx]
	if !ok {
		return Value{}, fmt.Errorf("MR index %v in bank %v not present in fake root of trust", idx, alg)
	}
	return NewValue(alg, dgst)
}
