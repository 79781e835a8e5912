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

// Package tpmeventlog implements event log parsing and replay for the PC Client
// TPM PCR_based event log.
// It supports both the SHA-1 only and crypto agile log formats.
package tpmeventlog

import (
	"context"
	"fmt"
	"os"

	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/tcg"
	"github.com/google/go-ccverify/verify"
	"github.com/sirupsen/logrus"
)

// DefaultPath is where Linux exposes the firmware's TPM event log.
const DefaultPath = "/sys/kernel/security/tpm0/binary_bios_measurements"

// ParseEventLog parses a PC Client event log. Entries are indexed by PCR.
//
// On a malformed event, the entries before it are returned along with the
// error.
func ParseEventLog(rawEventLog []byte) ([]tcg.Entry, error) {
	el, err := tcg.ParseEventLog(rawEventLog, tcg.ParseOpts{})
	return el.Entries, err
}

// FileSource reads a PC Client event log from a file on every call.
type FileSource struct {
	Path string
}

// BootEventLog implements verify.BootLogSource.
func (s FileSource) BootEventLog(ctx context.Context) ([]tcg.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading TPM event log: %w", err)
	}
	entries, err := ParseEventLog(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.Path, err)
	}
	return entries, nil
}

type rawLog []byte

func (r rawLog) BootEventLog(ctx context.Context) ([]tcg.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseEventLog(r)
}

// BankSource serves live values from a PCR bank read by the caller.
type BankSource struct {
	Bank register.PCRBank
}

// Measurement implements verify.MeasurementSource.
func (s BankSource) Measurement(ctx context.Context, idx int, alg register.HashAlg) (register.Value, error) {
	if err := ctx.Err(); err != nil {
		return register.Value{}, err
	}
	if alg != s.Bank.Alg {
		return register.Value{}, fmt.Errorf("%w: PCR bank is %v, not %v", register.ErrUnsupportedAlg, s.Bank.Alg, alg)
	}
	return register.Lookup(s.Bank, idx)
}

// VerifyPCRs parses a PC Client event log and replays it against every PCR in
// pcrBank, using the bank's algorithm. TPM event logs have no runtime
// continuation, so runtime replay never applies.
//
// It is the caller's responsibility to ensure that the passed PCR values can be
// trusted. Users can establish trust in PCR values by either reading the PCRs
// from the TPM themselves or by verifying the values via a PCR quote.
func VerifyPCRs(ctx context.Context, rawEventLog []byte, pcrBank register.PCRBank, log logrus.FieldLogger) (*verify.Report, error) {
	alg, err := pcrBank.HashAlg()
	if err != nil {
		return nil, err
	}
	v, err := verify.New(rawLog(rawEventLog), nil, BankSource{Bank: pcrBank}, verify.Options{
		Alg:             alg,
		RuntimeRegister: -1,
		StartupLocality: true,
		RegisterName:    "PCR",
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	idxs := make([]int, 0, len(pcrBank.PCRs))
	for _, pcr := range pcrBank.PCRs {
		idxs = append(idxs, pcr.Index)
	}
	return v.Verify(ctx, idxs), nil
}
