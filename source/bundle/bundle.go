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

// Package bundle stores a snapshot of guest measurement evidence in a CBOR
// file so that it can be verified offline. A Bundle serves every source the
// verifier needs.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-ccverify/ccel"
	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/runtimelog"
	"github.com/google/go-ccverify/tcg"
	"github.com/google/uuid"
)

// Version is the bundle format version written by this package.
const Version = 1

// ErrVersion is returned when decoding a bundle of another format version.
var ErrVersion = errors.New("unsupported bundle version")

// Bundle is a snapshot of the evidence of one guest.
type Bundle struct {
	Version    int       `cbor:"version"`
	ID         uuid.UUID `cbor:"id"`
	CapturedAt time.Time `cbor:"captured_at"`
	// Alg is the algorithm of Registers.
	Alg register.HashAlg `cbor:"alg"`
	// CCELTable is the CCEL ACPI table. When empty, CCEL is parsed without
	// table validation.
	CCELTable []byte `cbor:"ccel_table,omitempty"`
	CCEL      []byte `cbor:"ccel"`
	// RuntimeLog is the runtime measurement list text. It may be empty when
	// nothing was measured yet.
	RuntimeLog []byte `cbor:"runtime_log,omitempty"`
	// RuntimeLogCaptured is false when the runtime measurement list was not
	// readable at capture time.
	RuntimeLogCaptured  bool   `cbor:"runtime_log_captured"`
	Cmdline             string `cbor:"cmdline,omitempty"`
	RuntimePolicyActive bool   `cbor:"runtime_policy_active"`
	// Registers holds the live register values keyed by register index.
	Registers map[int][]byte `cbor:"registers"`
}

// New returns an empty bundle for alg with a fresh id.
func New(alg register.HashAlg) *Bundle {
	return &Bundle{
		Version:    Version,
		ID:         uuid.New(),
		CapturedAt: time.Now().UTC().Truncate(time.Second),
		Alg:        alg,
		Registers:  make(map[int][]byte),
	}
}

// SetBank stores the registers of bank. The bank algorithm must match the
// bundle's.
func (b *Bundle) SetBank(bank register.MRBank) error {
	alg, err := bank.HashAlg()
	if err != nil {
		return err
	}
	if alg != b.Alg {
		return fmt.Errorf("bank algorithm %v does not match bundle algorithm %v", alg, b.Alg)
	}
	for _, mr := range bank.MRs() {
		v, err := register.NewValue(alg, mr.Dgst())
		if err != nil {
			return fmt.Errorf("register %d: %w", mr.Idx(), err)
		}
		b.Registers[mr.Idx()] = v.Bytes()
	}
	return nil
}

// Bank returns the stored registers in ascending index order.
func (b *Bundle) Bank() register.PCRBank {
	idxs := make([]int, 0, len(b.Registers))
	for idx := range b.Registers {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	bank := register.PCRBank{Alg: b.Alg, PCRs: make([]register.PCR, 0, len(idxs))}
	for _, idx := range idxs {
		bank.PCRs = append(bank.PCRs, register.PCR{Index: idx, Digest: b.Registers[idx], DigestAlg: b.Alg})
	}
	return bank
}

// Evidence is the raw guest evidence a bundle is captured from.
type Evidence interface {
	RawBootEventLog(ctx context.Context) (table, data []byte, err error)
	RawRuntimeEventLog(ctx context.Context) ([]byte, error)
	Cmdline() (string, error)
}

// Capture snapshots ev and the live registers of bank. The runtime log is
// only required when policyActive is set; otherwise an unreadable runtime log
// is recorded as absent.
func Capture(ctx context.Context, ev Evidence, policyActive bool, bank register.MRBank) (*Bundle, error) {
	alg, err := bank.HashAlg()
	if err != nil {
		return nil, err
	}
	b := New(alg)
	b.RuntimePolicyActive = policyActive
	if err := b.SetBank(bank); err != nil {
		return nil, err
	}
	b.CCELTable, b.CCEL, err = ev.RawBootEventLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing boot event log: %w", err)
	}
	b.RuntimeLog, err = ev.RawRuntimeEventLog(ctx)
	if err != nil {
		if policyActive {
			return nil, fmt.Errorf("capturing runtime event log: %w", err)
		}
		b.RuntimeLog = nil
	} else {
		b.RuntimeLogCaptured = true
	}
	// The command line is informational once the policy is resolved.
	if cmdline, err := ev.Cmdline(); err == nil {
		b.Cmdline = cmdline
	}
	return b, nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes b in deterministic CBOR.
func (b *Bundle) Marshal() ([]byte, error) {
	return encMode.Marshal(b)
}

// Unmarshal decodes and validates a bundle.
func Unmarshal(data []byte) (*Bundle, error) {
	b := &Bundle{}
	if err := decMode.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b.Version)
	}
	if !b.Alg.Valid() {
		return nil, fmt.Errorf("bundle: %w: %v", register.ErrUnsupportedAlg, b.Alg)
	}
	if b.RuntimeLog != nil && !b.RuntimeLogCaptured {
		return nil, errors.New("bundle: runtime log present but not marked captured")
	}
	for idx, d := range b.Registers {
		if len(d) != b.Alg.Size() {
			return nil, fmt.Errorf("bundle register %d: %w: got %d bytes", idx, register.ErrDigestWidth, len(d))
		}
	}
	return b, nil
}

// Write stores b at path.
func (b *Bundle) Write(path string) error {
	data, err := b.Marshal()
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	return nil
}

// Read loads the bundle stored at path.
func Read(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	return Unmarshal(data)
}

// BootEventLog parses the stored CCEL.
func (b *Bundle) BootEventLog(ctx context.Context) ([]tcg.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.CCEL) == 0 {
		return nil, errors.New("bundle holds no boot event log")
	}
	if len(b.CCELTable) > 0 {
		return ccel.ParseEventLog(b.CCELTable, b.CCEL)
	}
	return ccel.ParseRawEventLog(b.CCEL)
}

// RuntimeEventLog parses the stored runtime measurement list.
func (b *Bundle) RuntimeEventLog(ctx context.Context) ([]runtimelog.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.RuntimeLogCaptured {
		return nil, errors.New("bundle holds no runtime event log")
	}
	return runtimelog.Parse(bytes.NewReader(b.RuntimeLog))
}

// Measurement returns the stored value of register idx.
func (b *Bundle) Measurement(ctx context.Context, idx int, alg register.HashAlg) (register.Value, error) {
	if err := ctx.Err(); err != nil {
		return register.Value{}, err
	}
	if alg != b.Alg {
		return register.Value{}, fmt.Errorf("%w: bundle registers are %v, not %v", register.ErrUnsupportedAlg, b.Alg, alg)
	}
	return register.Lookup(b.Bank(), idx)
}

// PolicyActive reports the runtime policy flag recorded at capture time.
func (b *Bundle) PolicyActive() (bool, error) {
	return b.RuntimePolicyActive, nil
}
