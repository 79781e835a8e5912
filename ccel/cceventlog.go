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

// Package ccel implements event log parsing for the Confidential Computing
// event log. It only supports the CCEL based on the TCG crypto-agile event log
// (including the "Spec ID Event03" signature).
package ccel

import (
	"errors"
	"fmt"

	"github.com/google/go-ccverify/internal/binblob"
	"github.com/google/go-ccverify/register"
	"github.com/google/go-ccverify/tcg"
)

// Defined in Guest Hypervisor Communication Interface (GHCI) for Intel TDX 1.0.
// https://www.intel.com/content/www/us/en/content-details/726790/guest-host-communication-interface-ghci-for-intel-trust-domain-extensions-intel-tdx.html
const (
	// See Section 4.3.3 CC-Event Log
	CCELACPITableSig     = "CCEL"
	CCELACPITableMinSize = 56
)

// Field offsets within the CCEL ACPI table.
const (
	offsetLength  = 4
	offsetCCType  = 36
	offsetLogArea = 40
)

// CCType describes the Confidential Computing type for the Confidential
// Computing event log.
type CCType uint8

// Known CC types.
// See https://uefi.org/specs/ACPI/6.5/05_ACPI_Software_Programming_Model.html#cc-event-log-acpi-table.
const (
	Reserved CCType = iota
	SEV
	TDX
)

func (t CCType) String() string {
	switch t {
	case Reserved:
		return "Reserved"
	case SEV:
		return "SEV"
	case TDX:
		return "TDX"
	}
	return fmt.Sprintf("CCType(%d)", uint8(t))
}

// CCACPITable represents the confidential computing (CC) event log ACPI table.
type CCACPITable struct {
	// Length is the minimum length of the log area.
	Length uint32
	CCType
}

// ParseACPITable validates a CCEL ACPI table.
func ParseACPITable(acpiTableFile []byte) (CCACPITable, error) {
	if len(acpiTableFile) < CCELACPITableMinSize {
		return CCACPITable{}, fmt.Errorf("received a smaller CCEL ACPI Table size (%v) than expected (%v)", len(acpiTableFile), CCELACPITableMinSize)
	}
	buf := binblob.New(acpiTableFile)
	sig, _, err := buf.Read(0, len(CCELACPITableSig))
	if err != nil {
		return CCACPITable{}, err
	}
	if CCELACPITableSig != string(sig) {
		return CCACPITable{}, fmt.Errorf("received an invalid signature (%v) for CCEL ACPI Table size (%v)", string(sig), len(acpiTableFile))
	}
	tableLen, _, err := buf.Uint32(offsetLength)
	if err != nil {
		return CCACPITable{}, err
	}
	if tableLen != uint32(buf.Len()) {
		return CCACPITable{}, fmt.Errorf("received mismatch CCEL ACPI table length: got %v, expected %v", tableLen, buf.Len())
	}
	ccType, _, err := buf.Uint8(offsetCCType)
	if err != nil {
		return CCACPITable{}, err
	}
	if CCType(ccType) > TDX {
		return CCACPITable{}, fmt.Errorf("received unknown CC type: %d", ccType)
	}
	// The log area minimum length is a uint64; its upper half is always zero
	// for logs that fit in memory.
	laml, _, err := buf.Uint32(offsetLogArea)
	if err != nil {
		return CCACPITable{}, err
	}
	return CCACPITable{
		Length: laml,
		CCType: CCType(ccType),
	}, nil
}

/*
	CCMRIdx TDX MR   PCR
	0       MRTD
	1       RTMR[0]  1,7
	2       RTMR[1]  2-6
	3       RTMR[2]  8-15
	4       RTMR[3]  n/a
*/

// ParseEventLog validates the CCEL ACPI table and parses the raw CCEL.
//
// The returned entries are indexed by RTMR index, not by CC MR index: an event
// logged against CC MR 3 is returned with index 2. MRTD events are dropped
// since MRTD is never extended at runtime.
//
// On a malformed event, the entries before it are returned along with the
// error.
func ParseEventLog(acpiTableFile []byte, rawEventLog []byte) ([]tcg.Entry, error) {
	table, err := ParseACPITable(acpiTableFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CCEL ACPI Table file: %w", err)
	}
	if table.CCType != TDX {
		return nil, fmt.Errorf("only TDX Confidential Computing event logs are supported: received %v", table.CCType)
	}
	return ParseRawEventLog(rawEventLog)
}

// ParseRawEventLog parses a CCEL without its ACPI table. See ParseEventLog.
func ParseRawEventLog(rawEventLog []byte) ([]tcg.Entry, error) {
	// CCELs have trailing padding at the end of the event log.
	el, parseErr := tcg.ParseEventLog(rawEventLog, tcg.ParseOpts{AllowPadding: true})
	if el == nil {
		return nil, parseErr
	}
	entries, err := toRTMRIndexes(el.Entries)
	return entries, errors.Join(parseErr, err)
}

func toRTMRIndexes(in []tcg.Entry) ([]tcg.Entry, error) {
	out := make([]tcg.Entry, 0, len(in))
	for i, e := range in {
		if e.MRIndex() == 0 {
			continue
		}
		idx, ok := register.RTMRIndexFromCCMR(e.MRIndex())
		if !ok {
			return out, fmt.Errorf("event %d: invalid CC MR index %d", i, e.MRIndex())
		}
		switch e := e.(type) {
		case tcg.StructuredEntry:
			e.Index = idx
			out = append(out, e)
		case tcg.LegacyEntry:
			e.Index = idx
			out = append(out, e)
		}
	}
	return out, nil
}
